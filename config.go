package shifter

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

type (
	// Config is the complete configuration of the editor core. It is loaded
	// and validated once and then passed to the constructors.
	Config struct {
		Vocoder  VocoderConfig  `yaml:"vocoder" json:"vocoder"`
		Tension  TensionConfig  `yaml:"tension" json:"tension"`
		Playback PlaybackConfig `yaml:"playback" json:"playback"`
	}

	// VocoderConfig holds the parameters of the loaded vocoder model. The yaml
	// and json keys are those of the model's own config file, so the model
	// config can be read directly.
	VocoderConfig struct {
		SampleRate int     `yaml:"audio_sample_rate" json:"audio_sample_rate"`
		HopSize    int     `yaml:"hop_size" json:"hop_size"`
		FFTSize    int     `yaml:"fft_size" json:"fft_size"`
		WinSize    int     `yaml:"win_size" json:"win_size"`
		NumMels    int     `yaml:"audio_num_mel_bins" json:"audio_num_mel_bins"`
		FMin       float64 `yaml:"fmin" json:"fmin"`
		FMax       float64 `yaml:"fmax" json:"fmax"`
		F0Min      float64 `yaml:"f0_min" json:"f0_min"`
		F0Max      float64 `yaml:"f0_max" json:"f0_max"`
		PadFrames  int     `yaml:"pad_frames" json:"pad_frames"`
	}

	// TensionConfig configures the spectral tilt effect. The STFT hop is
	// independent of the vocoder hop.
	TensionConfig struct {
		FFTSize int     `yaml:"fft_size" json:"fft_size"`
		HopSize int     `yaml:"hop_size" json:"hop_size"`
		MaxDB   float64 `yaml:"max_db" json:"max_db"`
	}

	// PlaybackConfig configures the output device.
	PlaybackConfig struct {
		BufferMillis int `yaml:"buffer_ms" json:"buffer_ms"`
	}

	// vocoderConfigFile accepts the older key names some model configs still
	// use.
	vocoderConfigFile struct {
		SampleRate   int     `yaml:"audio_sample_rate" json:"audio_sample_rate"`
		SamplingRate int     `yaml:"sampling_rate" json:"sampling_rate"`
		HopSize      int     `yaml:"hop_size" json:"hop_size"`
		FFTSize      int     `yaml:"fft_size" json:"fft_size"`
		NFFT         int     `yaml:"n_fft" json:"n_fft"`
		WinSize      int     `yaml:"win_size" json:"win_size"`
		NumMels      int     `yaml:"audio_num_mel_bins" json:"audio_num_mel_bins"`
		NumMelsOld   int     `yaml:"num_mels" json:"num_mels"`
		FMin         float64 `yaml:"fmin" json:"fmin"`
		FMax         float64 `yaml:"fmax" json:"fmax"`
		F0Min        float64 `yaml:"f0_min" json:"f0_min"`
		F0Max        float64 `yaml:"f0_max" json:"f0_max"`
		PadFrames    *int    `yaml:"pad_frames" json:"pad_frames"`
	}
)

const (
	DefaultPadFrames    = 64
	DefaultF0Min        = 40
	DefaultF0Max        = 1600
	DefaultTensionFFT   = 2048
	DefaultTensionHop   = 1024
	DefaultTensionMaxDB = 17
)

// DefaultConfig returns a configuration with the defaults filled in. The
// vocoder sample rate and hop size still need to come from the model.
func DefaultConfig() Config {
	return Config{
		Vocoder: VocoderConfig{
			F0Min:     DefaultF0Min,
			F0Max:     DefaultF0Max,
			PadFrames: DefaultPadFrames,
		},
		Tension: TensionConfig{
			FFTSize: DefaultTensionFFT,
			HopSize: DefaultTensionHop,
			MaxDB:   DefaultTensionMaxDB,
		},
	}
}

func (f vocoderConfigFile) config() VocoderConfig {
	ret := VocoderConfig{
		SampleRate: f.SampleRate,
		HopSize:    f.HopSize,
		FFTSize:    f.FFTSize,
		WinSize:    f.WinSize,
		NumMels:    f.NumMels,
		FMin:       f.FMin,
		FMax:       f.FMax,
		F0Min:      f.F0Min,
		F0Max:      f.F0Max,
		PadFrames:  DefaultPadFrames,
	}
	if ret.SampleRate == 0 {
		ret.SampleRate = f.SamplingRate
	}
	if ret.FFTSize == 0 {
		ret.FFTSize = f.NFFT
	}
	if ret.NumMels == 0 {
		ret.NumMels = f.NumMelsOld
	}
	if ret.F0Min == 0 {
		ret.F0Min = DefaultF0Min
	}
	if ret.F0Max == 0 {
		ret.F0Max = DefaultF0Max
	}
	if f.PadFrames != nil {
		ret.PadFrames = *f.PadFrames
	}
	return ret
}

func (c *VocoderConfig) UnmarshalYAML(value *yaml.Node) error {
	var f vocoderConfigFile
	if err := value.Decode(&f); err != nil {
		return err
	}
	*c = f.config()
	return nil
}

func (c *VocoderConfig) UnmarshalJSON(b []byte) error {
	var f vocoderConfigFile
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*c = f.config()
	return nil
}

// Validate checks the vocoder configuration.
func (c VocoderConfig) Validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("vocoder: audio_sample_rate must be > 0, got %d", c.SampleRate))
	}
	if c.HopSize <= 0 {
		errs = append(errs, fmt.Errorf("vocoder: hop_size must be > 0, got %d", c.HopSize))
	}
	if c.PadFrames < 0 {
		errs = append(errs, fmt.Errorf("vocoder: pad_frames must be >= 0, got %d", c.PadFrames))
	}
	if c.F0Min >= c.F0Max {
		errs = append(errs, fmt.Errorf("vocoder: f0_min (%v) must be below f0_max (%v)", c.F0Min, c.F0Max))
	}
	return errors.Join(errs...)
}

// Validate checks the tension effect configuration.
func (c TensionConfig) Validate() error {
	var errs []error
	if c.FFTSize < 2 {
		errs = append(errs, fmt.Errorf("tension: fft_size must be >= 2, got %d", c.FFTSize))
	}
	if c.HopSize <= 0 || c.HopSize > c.FFTSize {
		errs = append(errs, fmt.Errorf("tension: hop_size must be in [1, %d], got %d", c.FFTSize, c.HopSize))
	}
	if c.MaxDB < 0 {
		errs = append(errs, fmt.Errorf("tension: max_db must be >= 0, got %v", c.MaxDB))
	}
	return errors.Join(errs...)
}

// Validate checks that the whole configuration is coherent and returns a
// joined error listing every problem found.
func (c Config) Validate() error {
	var errs []error
	if err := c.Vocoder.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Tension.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Playback.BufferMillis < 0 {
		errs = append(errs, fmt.Errorf("playback: buffer_ms must be >= 0, got %d", c.Playback.BufferMillis))
	}
	return errors.Join(errs...)
}

// LoadConfig decodes a configuration from r, first as .json and then as
// .yml, fills in defaults for the missing sections and validates the result.
func LoadConfig(r io.Reader) (*Config, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	cfg := DefaultConfig()
	if errJSON := json.Unmarshal(b, &cfg); errJSON != nil {
		cfg = DefaultConfig()
		if errYaml := yaml.Unmarshal(b, &cfg); errYaml != nil {
			return nil, fmt.Errorf("config: could not be parsed as .json (%v) or .yml (%v)", errJSON, errYaml)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadConfigFile reads and validates the configuration file at path.
func LoadConfigFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()
	cfg, err := LoadConfig(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadVocoderConfig reads a vocoder model config (config.yaml or
// config.json of the model folder) and validates it.
func LoadVocoderConfig(r io.Reader) (VocoderConfig, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return VocoderConfig{}, fmt.Errorf("vocoder config: read: %w", err)
	}
	var c VocoderConfig
	if errJSON := json.Unmarshal(b, &c); errJSON != nil {
		if errYaml := yaml.Unmarshal(b, &c); errYaml != nil {
			return VocoderConfig{}, fmt.Errorf("vocoder config could not be parsed as .json (%v) or .yml (%v)", errJSON, errYaml)
		}
	}
	if err := c.Validate(); err != nil {
		return VocoderConfig{}, err
	}
	return c, nil
}
