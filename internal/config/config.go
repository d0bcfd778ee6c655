package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type Configuration struct {
	Server  *ServerConfig
	AI      *AIConfig
	Sidecar *SidecarConfig
	Limits  *LimitsConfig
	Session *SessionConfig
	Domain  *DomainConfig
	Verbose bool
}

type ServerConfig struct {
	Bind string
	Port int
}

type AIConfig struct {
	OpenAIKey     string
	OpenAIURL     string
	Model         string
	MaxTokens     int
	Temperature   float32
	TopP          float32
	Timeout       time.Duration
	LocalFallback bool
	RetryAttempts int
	RetryBase     time.Duration
	MinSpacing    time.Duration
	Prompt        string
}

type SidecarConfig struct {
	URL             string
	Command         string
	StartupAttempts int
	StartupInterval time.Duration
	ProbeTimeout    time.Duration
}

type LimitsConfig struct {
	Requests int
	Window   time.Duration
	Sweep    time.Duration
}

type SessionConfig struct {
	MaxHistory int
}

type DomainConfig struct {
	APIURL          string
	AutocompleteURL string
	LookupLimit     int
	Timeout         time.Duration
}

// YamlSource implements cli.ValueSource for a map loaded from YAML
type YamlSource struct {
	data map[string]any
	key  string
}

func (y *YamlSource) Lookup() (string, bool) {
	if v, ok := y.data[y.key]; ok {
		// Handle slices by joining with comma
		if slice, ok := v.([]any); ok {
			var strs []string
			for _, item := range slice {
				strs = append(strs, fmt.Sprintf("%v", item))
			}
			return strings.Join(strs, ","), true
		}
		return fmt.Sprintf("%v", v), true
	}
	return "", false
}

func (y *YamlSource) String() string   { return "yaml" }
func (y *YamlSource) GoString() string { return "yaml" }

func GetFlags() []cli.Flag {
	// Pre-parse config path
	configPath := getConfigPath()
	var configData map[string]any
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err == nil {
			_ = yaml.Unmarshal(data, &configData)
		} else {
			fmt.Fprintf(os.Stderr, "Warning: failed to read config file %s: %v\n", configPath, err)
		}
	}

	// Helper to create sources: EnvVar > YAML > Default
	src := func(key string, env ...string) cli.ValueSourceChain {
		chain := cli.ValueSourceChain{}
		for _, e := range env {
			chain.Chain = append(chain.Chain, cli.EnvVar(e))
		}
		if configData != nil {
			chain.Chain = append(chain.Chain, &YamlSource{data: configData, key: key})
		}
		return chain
	}

	return []cli.Flag{
		// Config file
		&cli.StringFlag{Name: "config", Aliases: []string{"b"}, Usage: "use the named configuration file", Sources: cli.EnvVars("ASSIST_CONFIG")},

		// HTTP server
		&cli.StringFlag{Name: "bind", Value: "0.0.0.0", Usage: "address to listen on", Sources: src("bind", "ASSIST_BIND")},
		&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Value: 8090, Usage: "port to listen on", Sources: src("port", "ASSIST_PORT")},
		&cli.BoolFlag{Name: "verbose", Aliases: []string{"V"}, Usage: "enable verbose logging of requests and configuration", Sources: src("verbose", "ASSIST_VERBOSE")},

		// Cloud AI
		&cli.StringFlag{Name: "openaikey", Usage: "OpenAI API key", Sources: src("openaikey", "ASSIST_OPENAIKEY")},
		&cli.StringFlag{Name: "openaiurl", Usage: "OpenAI API URL (for custom endpoints)", Sources: src("openaiurl", "ASSIST_OPENAIURL")},
		&cli.StringFlag{Name: "model", Value: "gpt-4o-mini", Usage: "model to be used for responses", Sources: src("model", "ASSIST_MODEL")},
		&cli.IntFlag{Name: "maxtokens", Value: 4096, Usage: "maximum number of tokens to generate", Sources: src("maxtokens", "ASSIST_MAXTOKENS")},
		&cli.FloatFlag{Name: "temperature", Value: 0.2, Usage: "temperature for the completion", Sources: src("temperature", "ASSIST_TEMPERATURE")},
		&cli.FloatFlag{Name: "top_p", Value: 1.0, Usage: "top P value for the completion", Sources: src("top_p", "ASSIST_TOP_P")},
		&cli.DurationFlag{Name: "apitimeout", Aliases: []string{"t"}, Value: time.Minute * 2, Usage: "timeout for each completion request", Sources: src("apitimeout", "ASSIST_APITIMEOUT")},
		&cli.BoolFlag{Name: "localfallback", Value: true, Usage: "fall back to the local NLP sidecar when the cloud provider is rate limited", Sources: src("localfallback", "ASSIST_LOCALFALLBACK")},
		&cli.IntFlag{Name: "retryattempts", Value: 3, Usage: "maximum retries after a provider rate-limit signal", Sources: src("retryattempts", "ASSIST_RETRYATTEMPTS")},
		&cli.DurationFlag{Name: "retrybase", Value: time.Second * 2, Usage: "base delay for provider retry backoff", Sources: src("retrybase", "ASSIST_RETRYBASE")},
		&cli.DurationFlag{Name: "minspacing", Value: time.Millisecond * 250, Usage: "minimum spacing between provider requests", Sources: src("minspacing", "ASSIST_MINSPACING")},
		&cli.StringFlag{Name: "prompt", Value: "you are the assistant of a field service management app. use the provided tools to read and change data. never invent entity ids.", Usage: "initial system prompt", Sources: src("prompt", "ASSIST_PROMPT")},

		// Local NLP sidecar
		&cli.StringFlag{Name: "sidecarurl", Value: "http://localhost:8001", Usage: "local NLP sidecar base URL", Sources: src("sidecarurl", "ASSIST_SIDECARURL")},
		&cli.StringFlag{Name: "sidecarcmd", Usage: "command used to launch the sidecar when it is not running", Sources: src("sidecarcmd", "ASSIST_SIDECARCMD")},
		&cli.IntFlag{Name: "sidecarattempts", Value: 10, Usage: "health poll attempts while the sidecar starts", Sources: src("sidecarattempts", "ASSIST_SIDECARATTEMPTS")},
		&cli.DurationFlag{Name: "sidecarinterval", Value: time.Second, Usage: "interval between sidecar health polls", Sources: src("sidecarinterval", "ASSIST_SIDECARINTERVAL")},
		&cli.DurationFlag{Name: "sidecarprobe", Value: time.Second * 2, Usage: "timeout for a single sidecar health probe", Sources: src("sidecarprobe", "ASSIST_SIDECARPROBE")},

		// Admission control
		&cli.IntFlag{Name: "ratelimit", Value: 30, Usage: "requests admitted per caller per window", Sources: src("ratelimit", "ASSIST_RATELIMIT")},
		&cli.DurationFlag{Name: "ratewindow", Value: time.Minute, Usage: "trailing admission window", Sources: src("ratewindow", "ASSIST_RATEWINDOW")},
		&cli.DurationFlag{Name: "ratesweep", Value: time.Minute * 5, Usage: "interval for sweeping idle limiter keys", Sources: src("ratesweep", "ASSIST_RATESWEEP")},

		// Conversation
		&cli.IntFlag{Name: "maxhistory", Aliases: []string{"H"}, Value: 40, Usage: "maximum number of messages of context to keep per request", Sources: src("maxhistory", "ASSIST_MAXHISTORY")},

		// Domain collaborators
		&cli.StringFlag{Name: "domainurl", Value: "http://localhost:5000/api", Usage: "domain API base URL", Sources: src("domainurl", "ASSIST_DOMAINURL")},
		&cli.StringFlag{Name: "autocompleteurl", Value: "http://localhost:5000/api/autocomplete", Usage: "autocomplete lookup URL", Sources: src("autocompleteurl", "ASSIST_AUTOCOMPLETEURL")},
		&cli.IntFlag{Name: "lookuplimit", Value: 5, Usage: "maximum suggestions requested per mention lookup", Sources: src("lookuplimit", "ASSIST_LOOKUPLIMIT")},
		&cli.DurationFlag{Name: "domaintimeout", Value: time.Second * 10, Usage: "timeout for domain API calls", Sources: src("domaintimeout", "ASSIST_DOMAINTIMEOUT")},
	}
}

func getConfigPath() string {
	// Check env first
	if v := os.Getenv("ASSIST_CONFIG"); v != "" {
		return v
	}
	// Check args
	for i, arg := range os.Args {
		if arg == "--config" || arg == "-b" {
			if i+1 < len(os.Args) {
				return os.Args[i+1]
			}
		}
		if strings.HasPrefix(arg, "--config=") {
			return strings.TrimPrefix(arg, "--config=")
		}
	}
	return ""
}

func (c *Configuration) PrintConfig() {
	fmt.Printf("bind: %s\n", c.Server.Bind)
	fmt.Printf("port: %d\n", c.Server.Port)
	fmt.Printf("verbose: %t\n", c.Verbose)
	if len(c.AI.OpenAIKey) > 3 {
		fmt.Printf("openaikey: %s\n", strings.Repeat("*", len(c.AI.OpenAIKey)-3)+c.AI.OpenAIKey[len(c.AI.OpenAIKey)-3:])
	} else {
		fmt.Printf("openaikey: %s\n", c.AI.OpenAIKey)
	}
	fmt.Printf("openaiurl: %s\n", c.AI.OpenAIURL)
	fmt.Printf("model: %s\n", c.AI.Model)
	fmt.Printf("maxtokens: %d\n", c.AI.MaxTokens)
	fmt.Printf("temperature: %f\n", c.AI.Temperature)
	fmt.Printf("topp: %f\n", c.AI.TopP)
	fmt.Printf("apitimeout: %s\n", c.AI.Timeout)
	fmt.Printf("localfallback: %t\n", c.AI.LocalFallback)
	fmt.Printf("retryattempts: %d\n", c.AI.RetryAttempts)
	fmt.Printf("retrybase: %s\n", c.AI.RetryBase)
	fmt.Printf("minspacing: %s\n", c.AI.MinSpacing)
	fmt.Printf("sidecarurl: %s\n", c.Sidecar.URL)
	fmt.Printf("sidecarcmd: %s\n", c.Sidecar.Command)
	fmt.Printf("ratelimit: %d\n", c.Limits.Requests)
	fmt.Printf("ratewindow: %s\n", c.Limits.Window)
	fmt.Printf("maxhistory: %d\n", c.Session.MaxHistory)
	fmt.Printf("domainurl: %s\n", c.Domain.APIURL)
	fmt.Printf("autocompleteurl: %s\n", c.Domain.AutocompleteURL)
	fmt.Printf("prompt: %s\n", c.AI.Prompt)
}

func NewConfiguration(c *cli.Command) *Configuration {
	if c.IsSet("config") {
		zap.S().Infow("Using config file", "path", c.String("config"))
	}

	config := &Configuration{
		Server: &ServerConfig{
			Bind: c.String("bind"),
			Port: c.Int("port"),
		},
		AI: &AIConfig{
			OpenAIKey:     c.String("openaikey"),
			OpenAIURL:     c.String("openaiurl"),
			Model:         c.String("model"),
			MaxTokens:     c.Int("maxtokens"),
			Temperature:   float32(c.Float("temperature")),
			TopP:          float32(c.Float("top_p")),
			Timeout:       c.Duration("apitimeout"),
			LocalFallback: c.Bool("localfallback"),
			RetryAttempts: c.Int("retryattempts"),
			RetryBase:     c.Duration("retrybase"),
			MinSpacing:    c.Duration("minspacing"),
			Prompt:        c.String("prompt"),
		},
		Sidecar: &SidecarConfig{
			URL:             c.String("sidecarurl"),
			Command:         c.String("sidecarcmd"),
			StartupAttempts: c.Int("sidecarattempts"),
			StartupInterval: c.Duration("sidecarinterval"),
			ProbeTimeout:    c.Duration("sidecarprobe"),
		},
		Limits: &LimitsConfig{
			Requests: c.Int("ratelimit"),
			Window:   c.Duration("ratewindow"),
			Sweep:    c.Duration("ratesweep"),
		},
		Session: &SessionConfig{
			MaxHistory: c.Int("maxhistory"),
		},
		Domain: &DomainConfig{
			APIURL:          c.String("domainurl"),
			AutocompleteURL: c.String("autocompleteurl"),
			LookupLimit:     c.Int("lookuplimit"),
			Timeout:         c.Duration("domaintimeout"),
		},
		Verbose: c.Bool("verbose"),
	}

	if config.Verbose {
		config.PrintConfig()
	}

	return config
}
