package llm

// Params are the canonical generation parameters. A nil Temperature means
// unset; zero is a valid deterministic setting.
type Params struct {
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        float64  `json:"topP"`
	MaxTokens   int      `json:"maxTokens"`
}

const (
	DefaultTemperature = 0.5
	DefaultTopP        = 1.0
)

type paramNames struct {
	temperature string
	topP        string
	maxTokens   string
	maxCap      int
}

// providerParams maps canonical parameters to each provider family's names
// and caps maxTokens.
var providerParams = map[string]paramNames{
	"amazon":    {"temperature", "topP", "maxTokenCount", 8000},
	"anthropic": {"temperature", "top_p", "max_tokens", 4096},
	"ai21":      {"temperature", "topP", "maxTokens", 2048},
	"cohere":    {"temperature", "p", "max_tokens", 4096},
	"meta":      {"temperature", "top_p", "max_gen_len", 2048},
	"mistral":   {"temperature", "top_p", "max_tokens", 4096},
}

// KnownFamily reports whether family has a parameter mapping.
func KnownFamily(family string) bool {
	_, ok := providerParams[family]
	return ok
}

// MaxTokensCap returns the maxTokens ceiling for family, or 0 when unknown.
func MaxTokensCap(family string) int {
	return providerParams[family].maxCap
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}

// Temp returns the temperature, or the default when unset.
func (p Params) Temp() float64 {
	if p.Temperature == nil {
		return DefaultTemperature
	}
	return *p.Temperature
}

// WithDefaults fills unset parameters and clamps maxTokens to the family cap.
func (p Params) WithDefaults(family string) Params {
	temp := DefaultTemperature
	if p.Temperature != nil {
		temp = min(max(*p.Temperature, 0), 1)
	}
	p.Temperature = &temp
	if p.TopP <= 0 || p.TopP > 1 {
		p.TopP = DefaultTopP
	}
	if limit := MaxTokensCap(family); limit > 0 {
		if p.MaxTokens <= 0 || p.MaxTokens > limit {
			p.MaxTokens = limit
		}
	}
	return p
}

// Translate renders p under the provider family's parameter names. Unknown
// families keep the canonical names.
func (p Params) Translate(family string) map[string]any {
	p = p.WithDefaults(family)
	names, ok := providerParams[family]
	if !ok {
		names = paramNames{"temperature", "topP", "maxTokens", 0}
	}
	out := map[string]any{
		names.temperature: p.Temp(),
		names.topP:        p.TopP,
	}
	if p.MaxTokens > 0 {
		out[names.maxTokens] = p.MaxTokens
	}
	return out
}
