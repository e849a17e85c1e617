package turn

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/chriscow/livekit-voice-agent/internal/onnx"
	"github.com/chriscow/livekit-voice-agent/pkg/ai/llm"
	"github.com/chriscow/livekit-voice-agent/pkg/turn/internal"
)

const (
	modelFileRel = "onnx/model_q8.onnx"

	maxHistoryTurns  = 6
	maxHistoryTokens = 128
	slowInference    = 25 * time.Millisecond
)

// ONNXDetector implements turn detection using the local EOU model.
type ONNXDetector struct {
	modelInfo internal.ModelInfo
	modelPath string
	logger    *slog.Logger

	sessionOnce sync.Once
	session     *ort.DynamicAdvancedSession
	inputName   string
	outputName  string
	sessionErr  error

	// The session is not safe for concurrent Run calls.
	runMu sync.Mutex

	tokenizer     *tokenizer.Tokenizer
	tokenizerOnce sync.Once
	tokenizerErr  error

	languages     map[string]float64
	languagesOnce sync.Once
	languagesErr  error
}

// NewONNXDetector creates a new ONNX-based turn detector. Nothing is loaded
// until the first call that needs the model.
func NewONNXDetector(modelName, modelPath string) (*ONNXDetector, error) {
	modelInfo, ok := internal.Lookup(modelName)
	if !ok {
		return nil, fmt.Errorf("unknown model: %s", modelName)
	}

	if modelPath == "" {
		modelPath = DefaultModelPath()
	}

	return &ONNXDetector{
		modelInfo: modelInfo,
		modelPath: modelPath,
		logger:    slog.Default().With(slog.String("component", "turn"), slog.String("model", modelName)),
	}, nil
}

// UnlikelyThreshold returns the language-specific threshold for EOU detection.
func (d *ONNXDetector) UnlikelyThreshold(language string) (float64, error) {
	if err := d.loadLanguages(); err != nil {
		return 0, err
	}
	threshold, ok := d.lookupLanguage(language)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, language)
	}
	return threshold, nil
}

// SupportsLanguage returns true if the detector has a tuned threshold for this language.
func (d *ONNXDetector) SupportsLanguage(language string) bool {
	if err := d.loadLanguages(); err != nil {
		return false
	}
	_, ok := d.lookupLanguage(language)
	return ok
}

// lookupLanguage tries the full tag first and then its base ("en-US" → "en").
func (d *ONNXDetector) lookupLanguage(language string) (float64, bool) {
	language = strings.ToLower(language)
	if t, ok := d.languages[language]; ok {
		return t, true
	}
	if base, _, found := strings.Cut(language, "-"); found {
		t, ok := d.languages[base]
		return t, ok
	}
	return 0, false
}

// PredictEndOfTurn returns probability (0–1) that the user has finished speaking.
func (d *ONNXDetector) PredictEndOfTurn(ctx context.Context, chatCtx ChatContext) (float64, error) {
	start := time.Now()

	if err := d.loadSession(); err != nil {
		return 0, fmt.Errorf("failed to load ONNX session: %w", err)
	}
	if err := d.loadTokenizer(); err != nil {
		return 0, fmt.Errorf("failed to load tokenizer: %w", err)
	}

	tokens, err := d.tokenizeChat(chatCtx)
	if err != nil {
		return 0, fmt.Errorf("tokenization failed: %w", err)
	}

	probability, err := d.runInference(ctx, tokens)
	if err != nil {
		return 0, fmt.Errorf("inference failed: %w", err)
	}

	if latency := time.Since(start); latency > slowInference {
		d.logger.Debug("slow turn inference", slog.Duration("latency", latency))
	}
	return probability, nil
}

// Close releases the ONNX session.
func (d *ONNXDetector) Close() error {
	if d.session != nil {
		return d.session.Destroy()
	}
	return nil
}

func (d *ONNXDetector) loadSession() error {
	d.sessionOnce.Do(func() {
		modelFile := internal.GetModelFilePath(d.modelPath, d.modelInfo.Revision, modelFileRel)
		if _, err := os.Stat(modelFile); err != nil {
			d.sessionErr = fmt.Errorf("model file not found: %s (run 'voice-agent download-files' first)", modelFile)
			return
		}

		if err := onnx.Init(); err != nil {
			d.sessionErr = fmt.Errorf("failed to initialize ONNX runtime: %w", err)
			return
		}

		inputs, outputs, err := ort.GetInputOutputInfo(modelFile)
		if err != nil {
			d.sessionErr = fmt.Errorf("failed to inspect model: %w", err)
			return
		}
		if len(inputs) == 0 || len(outputs) == 0 {
			d.sessionErr = fmt.Errorf("model %s has no inputs or outputs", modelFile)
			return
		}
		d.inputName = inputs[0].Name
		d.outputName = outputs[0].Name

		options, err := onnx.SessionOptions()
		if err != nil {
			d.sessionErr = fmt.Errorf("failed to create session options: %w", err)
			return
		}
		defer options.Destroy()

		if err := options.AddSessionConfigEntry("session.dynamic_block_base", "4"); err != nil {
			d.sessionErr = fmt.Errorf("failed to set session.dynamic_block_base: %w", err)
			return
		}

		d.session, err = ort.NewDynamicAdvancedSession(modelFile,
			[]string{d.inputName}, []string{d.outputName}, options)
		if err != nil {
			d.sessionErr = fmt.Errorf("failed to create ONNX session: %w", err)
		}
	})
	return d.sessionErr
}

func (d *ONNXDetector) loadTokenizer() error {
	d.tokenizerOnce.Do(func() {
		tokenizerFile := internal.GetModelFilePath(d.modelPath, d.modelInfo.Revision, "tokenizer.json")
		if _, err := os.Stat(tokenizerFile); err != nil {
			d.tokenizerErr = fmt.Errorf("tokenizer file not found: %s (run 'voice-agent download-files' first)", tokenizerFile)
			return
		}

		tk, err := pretrained.FromFile(tokenizerFile)
		if err != nil {
			d.tokenizerErr = fmt.Errorf("failed to load tokenizer: %w", err)
			return
		}
		d.tokenizer = tk
	})
	return d.tokenizerErr
}

// loadLanguages parses languages.json once and caches the thresholds.
func (d *ONNXDetector) loadLanguages() error {
	d.languagesOnce.Do(func() {
		langFile := internal.GetModelFilePath(d.modelPath, d.modelInfo.Revision, "languages.json")
		languages, err := parseLanguages(langFile)
		if err != nil {
			d.languagesErr = err
			return
		}
		d.languages = languages
	})
	return d.languagesErr
}

// parseLanguages accepts both the flat {"en": 0.85} layout and the
// {"en": {"threshold": 0.85}} layout published with newer revisions.
func parseLanguages(path string) (map[string]float64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open languages.json: %w", err)
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode languages.json: %w", err)
	}

	out := make(map[string]float64, len(entries))
	for lang, entry := range entries {
		var flat float64
		if err := json.Unmarshal(entry, &flat); err == nil {
			out[strings.ToLower(lang)] = flat
			continue
		}
		var nested struct {
			Threshold float64 `json:"threshold"`
		}
		if err := json.Unmarshal(entry, &nested); err != nil {
			return nil, fmt.Errorf("languages.json entry %q: %w", lang, err)
		}
		out[strings.ToLower(lang)] = nested.Threshold
	}
	return out, nil
}

func (d *ONNXDetector) tokenizeChat(chatCtx ChatContext) ([]int64, error) {
	encoding, err := d.tokenizer.EncodeSingle(FormatChat(chatCtx.Messages), false)
	if err != nil {
		return nil, err
	}

	ids := encoding.GetIds()
	if len(ids) > maxHistoryTokens {
		ids = ids[len(ids)-maxHistoryTokens:]
	}

	tokens := make([]int64, len(ids))
	for i, id := range ids {
		tokens[i] = int64(id)
	}
	return tokens, nil
}

// FormatChat renders the most recent turns with the model's chat template.
// The final end-of-turn marker is left off so the model predicts it.
func FormatChat(messages []llm.Message) string {
	if len(messages) > maxHistoryTurns {
		messages = messages[len(messages)-maxHistoryTurns:]
	}

	var b strings.Builder
	for i, msg := range messages {
		if msg.Role == llm.RoleSystem {
			continue
		}
		fmt.Fprintf(&b, "<|im_start|><|%s|>%s", msg.Role, normalize(msg.Content))
		if i < len(messages)-1 {
			b.WriteString("<|im_end|>")
		}
	}
	return b.String()
}

// normalize lowercases text and strips punctuation other than apostrophes
// and hyphens, matching how the model was trained.
func normalize(text string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		switch {
		case r == '\'' || r == '-':
			b.WriteRune(r)
		case strings.ContainsRune(".,!?;:\"()[]{}", r):
		default:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func (d *ONNXDetector) runInference(ctx context.Context, tokens []int64) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(tokens) == 0 {
		return 0.5, nil
	}

	input, err := ort.NewTensor(ort.NewShape(1, int64(len(tokens))), tokens)
	if err != nil {
		return 0, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer input.Destroy()

	outputs := []ort.Value{nil}

	d.runMu.Lock()
	err = d.session.Run([]ort.Value{input}, outputs)
	d.runMu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("ONNX inference failed: %w", err)
	}
	defer outputs[0].Destroy()

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return 0, fmt.Errorf("unexpected output type %T", outputs[0])
	}
	data := out.GetData()
	if len(data) == 0 {
		return 0, fmt.Errorf("empty output tensor")
	}

	prob := float64(data[len(data)-1])
	return min(max(prob, 0), 1), nil
}

// DefaultModelPath returns LK_MODEL_PATH or ~/.livekit/models.
func DefaultModelPath() string {
	if path := os.Getenv("LK_MODEL_PATH"); path != "" {
		return path
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "livekit-models")
	}
	return filepath.Join(homeDir, ".livekit", "models")
}
