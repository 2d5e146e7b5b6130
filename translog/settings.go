package translog

import (
	"strconv"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"gopkg.in/yaml.v2"

	"github.com/quiverdb/translog/internal/logging"
	"github.com/quiverdb/translog/segment"
)

// Durability selects when an appended record is guaranteed durable.
type Durability int

const (
	// Request fsyncs after every append (syncOnEachOperation).
	Request Durability = iota
	// Async fsyncs periodically, on the Settings.SyncInterval cadence; a
	// SyncInterval of 0 fsyncs after every append instead, as Request does.
	Async
)

func (d Durability) String() string {
	if d == Async {
		return "ASYNC"
	}
	return "REQUEST"
}

const (
	DefaultDurability  = Request
	DefaultWriterType  = segment.Buffered
	DefaultBufferSize  = segment.DefaultBufferSize
	DefaultSyncInterval = 5 * time.Second
)

// Settings holds the four translog configuration keys, all with
// defaults, plus one additive diagnostics flag.
type Settings struct {
	Durability            Durability
	FSType                segment.WriterType
	BufferSize            int
	SyncInterval          time.Duration
	CheckpointDiagnostics bool
}

// DefaultSettings returns the documented defaults for every key.
func DefaultSettings() *Settings {
	return &Settings{
		Durability:   DefaultDurability,
		FSType:       DefaultWriterType,
		BufferSize:   DefaultBufferSize,
		SyncInterval: DefaultSyncInterval,
	}
}

// yamlSettings reads every field as a string first, so an unrecognized
// or malformed value can be logged and defaulted instead of failing the
// whole parse.
type yamlSettings struct {
	Durability            string `yaml:"index.translog.durability"`
	FSType                string `yaml:"index.translog.fs.type"`
	BufferSize            string `yaml:"index.translog.fs.buffer_size"`
	SyncInterval          string `yaml:"index.translog.sync_interval"`
	CheckpointDiagnostics string `yaml:"index.translog.checkpoint_diagnostics"`
}

// ParseSettings parses a YAML document of the four (plus one additive)
// translog settings keys. A key that is absent or empty takes its
// default silently; an unrecognized or malformed value takes the default
// and logs a warning.
func ParseSettings(data []byte) (*Settings, error) {
	var aux yamlSettings
	if err := yaml.Unmarshal(data, &aux); err != nil {
		return nil, err
	}

	s := DefaultSettings()

	switch aux.Durability {
	case "":
		// use default, no warning: absence is expected and documented.
	case "REQUEST":
		s.Durability = Request
	case "ASYNC":
		s.Durability = Async
	default:
		logging.Warn("translog: unrecognized index.translog.durability %q, using default %s", aux.Durability, s.Durability)
	}

	switch aux.FSType {
	case "":
	case "SIMPLE":
		s.FSType = segment.Simple
	case "BUFFERED":
		s.FSType = segment.Buffered
	default:
		logging.Warn("translog: unrecognized index.translog.fs.type %q, using default BUFFERED", aux.FSType)
	}

	if aux.BufferSize != "" {
		if n, err := parseByteSize(aux.BufferSize); err != nil {
			logging.Warn("translog: invalid index.translog.fs.buffer_size %q: %v, using default", aux.BufferSize, err)
		} else {
			s.BufferSize = n
		}
	}

	if aux.SyncInterval != "" {
		if d, err := time.ParseDuration(aux.SyncInterval); err != nil {
			logging.Warn("translog: invalid index.translog.sync_interval %q: %v, using default", aux.SyncInterval, err)
		} else {
			s.SyncInterval = d
		}
	}

	if aux.CheckpointDiagnostics != "" {
		if b, err := strconv.ParseBool(aux.CheckpointDiagnostics); err != nil {
			logging.Warn("translog: invalid index.translog.checkpoint_diagnostics %q: %v, using default false", aux.CheckpointDiagnostics, err)
		} else {
			s.CheckpointDiagnostics = b
		}
	}

	return s, nil
}

// parseByteSize accepts either a plain integer (bytes) or a unit suffix
// like "64K"/"1M" via bytefmt; translogmetrics uses the same library to
// format sizes in its log lines.
func parseByteSize(v string) (int, error) {
	if n, err := strconv.Atoi(v); err == nil {
		return n, nil
	}
	n, err := bytefmt.ToBytes(v)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
