package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/noah-isme/oracy-scoring-api/pkg/gcp"
)

// GoogleSpeechConfig defines configuration for the Cloud Speech fallback transcriber.
type GoogleSpeechConfig struct {
	LanguageCode string
	// Credentials is either a service account JSON document or a path to one.
	// Empty falls back to application default credentials.
	Credentials    string
	PauseThreshold time.Duration
	Logger         zerolog.Logger
}

const (
	speechRetries = 3
	speechBackoff = 750 * time.Millisecond
)

// GoogleSpeechTranscriber implements Transcriber with Google Cloud Speech-to-Text.
type GoogleSpeechTranscriber struct {
	client *speech.Client
	cfg    GoogleSpeechConfig
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewGoogleSpeechTranscriber dials the Speech API.
func NewGoogleSpeechTranscriber(ctx context.Context, cfg GoogleSpeechConfig) (*GoogleSpeechTranscriber, error) {
	if cfg.LanguageCode == "" {
		cfg.LanguageCode = "en-GB"
	}
	if cfg.PauseThreshold <= 0 {
		cfg.PauseThreshold = DefaultPauseThreshold
	}

	client, err := speech.NewClient(ctx, gcp.ClientOptions(cfg.Credentials)...)
	if err != nil {
		return nil, fmt.Errorf("speech client: %w", err)
	}

	return &GoogleSpeechTranscriber{
		client: client,
		cfg:    cfg,
		tracer: otel.Tracer("github.com/noah-isme/oracy-scoring-api/pkg/ai/google_speech"),
		logger: cfg.Logger.With().Str("component", "google_speech_transcriber").Logger(),
	}, nil
}

func (t *GoogleSpeechTranscriber) Name() string {
	return ProviderGoogle
}

// Close releases the underlying gRPC connection.
func (t *GoogleSpeechTranscriber) Close() error {
	if t == nil || t.client == nil {
		return nil
	}
	return t.client.Close()
}

// Transcribe runs a long-running recognition with word time offsets enabled.
func (t *GoogleSpeechTranscriber) Transcribe(parent context.Context, audio []byte, mimeType string) (Transcript, error) {
	ctx, span := t.tracer.Start(parent, "google_speech.transcribe", trace.WithAttributes(
		attribute.String("language", t.cfg.LanguageCode),
		attribute.Int("audio.bytes", len(audio)),
	))
	defer span.End()

	if len(audio) == 0 {
		err := fmt.Errorf("%w: no audio to transcribe", ErrProviderEmptyResponse)
		span.SetStatus(codes.Error, err.Error())
		return Transcript{}, err
	}

	request := &speechpb.LongRunningRecognizeRequest{
		Config: recognitionConfig(mimeType, t.cfg.LanguageCode),
		Audio:  &speechpb.RecognitionAudio{AudioSource: &speechpb.RecognitionAudio_Content{Content: audio}},
	}

	start := time.Now()
	resp, err := t.recognize(ctx, request)
	providerDuration.WithLabelValues(ProviderGoogle, "transcribe").Observe(time.Since(start).Seconds())
	if err != nil {
		providerFailures.WithLabelValues(ProviderGoogle, "transcribe").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Transcript{}, classifyGRPCError(ProviderGoogle, err)
	}

	transcript := transcriptFromSpeech(resp, t.cfg.PauseThreshold)
	if transcript.Text == "" {
		providerFailures.WithLabelValues(ProviderGoogle, "transcribe").Inc()
		err := fmt.Errorf("%w: %s transcription was blank", ErrProviderEmptyResponse, ProviderGoogle)
		span.SetStatus(codes.Error, err.Error())
		return Transcript{}, err
	}
	return transcript, nil
}

// recognize retries the whole long-running operation when the API reports
// overload or unavailability.
func (t *GoogleSpeechTranscriber) recognize(ctx context.Context, request *speechpb.LongRunningRecognizeRequest) (*speechpb.LongRunningRecognizeResponse, error) {
	attempt := 0
	return retryTransient(ctx, speechRetries, speechBackoff, func() (*speechpb.LongRunningRecognizeResponse, error) {
		attempt++
		if attempt > 1 {
			t.logger.Warn().Int("attempt", attempt).Msg("retrying speech recognition")
		}
		op, err := t.client.LongRunningRecognize(ctx, request)
		if err != nil {
			return nil, err
		}
		return op.Wait(ctx)
	})
}

func transcriptFromSpeech(resp *speechpb.LongRunningRecognizeResponse, threshold time.Duration) Transcript {
	out := Transcript{Provider: ProviderGoogle}
	if resp == nil {
		return out
	}

	var full strings.Builder
	for _, result := range resp.GetResults() {
		alternatives := result.GetAlternatives()
		if len(alternatives) == 0 || alternatives[0] == nil {
			continue
		}
		best := alternatives[0]
		if text := strings.TrimSpace(best.GetTranscript()); text != "" {
			if full.Len() > 0 {
				full.WriteByte(' ')
			}
			full.WriteString(text)
		}
		for _, w := range best.GetWords() {
			if w == nil {
				continue
			}
			out.Words = append(out.Words, Word{
				Text:  w.GetWord(),
				Start: durationSeconds(w.GetStartTime()),
				End:   durationSeconds(w.GetEndTime()),
			})
		}
	}

	out.Text = strings.TrimSpace(full.String())
	if len(out.Words) > 0 {
		out.Text = AnnotatePauses(out.Words, threshold)
		out.Duration = out.Words[len(out.Words)-1].End
	}
	return out
}

func recognitionConfig(mimeType, languageCode string) *speechpb.RecognitionConfig {
	config := &speechpb.RecognitionConfig{
		LanguageCode:               languageCode,
		EnableAutomaticPunctuation: true,
		EnableWordTimeOffsets:      true,
		Encoding:                   speechEncoding(mimeType),
	}
	switch config.Encoding {
	case speechpb.RecognitionConfig_WEBM_OPUS, speechpb.RecognitionConfig_OGG_OPUS:
		config.SampleRateHertz = 48000
	}
	return config
}

func speechEncoding(mimeType string) speechpb.RecognitionConfig_AudioEncoding {
	m := strings.ToLower(strings.TrimSpace(mimeType))
	switch {
	case strings.Contains(m, "webm"):
		return speechpb.RecognitionConfig_WEBM_OPUS
	case strings.Contains(m, "ogg"), strings.Contains(m, "opus"):
		return speechpb.RecognitionConfig_OGG_OPUS
	case strings.Contains(m, "wav"):
		return speechpb.RecognitionConfig_LINEAR16
	case strings.Contains(m, "flac"):
		return speechpb.RecognitionConfig_FLAC
	case strings.Contains(m, "mpeg"), strings.Contains(m, "mp3"):
		return speechpb.RecognitionConfig_MP3
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED
	}
}

func durationSeconds(d *durationpb.Duration) float64 {
	if d == nil {
		return 0
	}
	return float64(d.GetSeconds()) + float64(d.GetNanos())/1e9
}
