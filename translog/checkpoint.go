package translog

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/quiverdb/translog/internal/logging"
)

// CheckpointFileName is the fixed name of the checkpoint file within a
// translog directory.
const CheckpointFileName = "translog.ckp"

const (
	checkpointMagic uint32 = 0x544c4b50 // "TLKP"

	checkpointBaseSize = 4 + 1 + 8 + 4     // magic | version | generation | numOps
	checkpointDiagSize = checkpointBaseSize + 8 // + minTranslogGeneration

	checkpointVersion uint8 = 1
)

// Checkpoint is the small on-disk pointer identifying the generation to
// open on restart. MinGeneration is an additive, diagnostics-only
// field: a checkpoint written without it decodes with MinGeneration
// defaulting to
// Generation, and correctness of OPEN/RECOVER never depends on it being
// present.
type Checkpoint struct {
	Generation    int64
	NumOps        int32
	MinGeneration int64
}

func checkpointPath(dir string) string {
	return filepath.Join(dir, CheckpointFileName)
}

// ReadCheckpoint reads the checkpoint file in dir. A missing file is
// reported via os.IsNotExist on the returned error so callers can treat
// "no prior checkpoint" as a warning rather than a fatal error.
func ReadCheckpoint(dir string) (*Checkpoint, error) {
	path := checkpointPath(dir)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) < checkpointBaseSize {
		return nil, fmt.Errorf("translog: checkpoint %s is too short (%d bytes)", path, len(data))
	}
	magic := binary.BigEndian.Uint32(data[0:4])
	if magic != checkpointMagic {
		return nil, fmt.Errorf("translog: checkpoint %s has bad magic %08x", path, magic)
	}
	// version at data[4] is reserved for future layout changes; only
	// version 1 exists today and is accepted unconditionally.
	gen := int64(binary.BigEndian.Uint64(data[5:13]))
	numOps := int32(binary.BigEndian.Uint32(data[13:17]))

	minGen := gen
	if len(data) >= checkpointDiagSize {
		minGen = int64(binary.BigEndian.Uint64(data[17:25]))
	}

	return &Checkpoint{Generation: gen, NumOps: numOps, MinGeneration: minGen}, nil
}

// WriteCheckpoint atomically rewrites the checkpoint file to point at
// the given generation. withDiagnostics controls whether the additive
// MinGeneration field is written.
func WriteCheckpoint(dir string, ckpt Checkpoint, withDiagnostics bool) error {
	size := checkpointBaseSize
	if withDiagnostics {
		size = checkpointDiagSize
	}
	buf := make([]byte, size)
	binary.BigEndian.PutUint32(buf[0:4], checkpointMagic)
	buf[4] = checkpointVersion
	binary.BigEndian.PutUint64(buf[5:13], uint64(ckpt.Generation))
	binary.BigEndian.PutUint32(buf[13:17], uint32(ckpt.NumOps))
	if withDiagnostics {
		binary.BigEndian.PutUint64(buf[17:25], uint64(ckpt.MinGeneration))
	}

	path := checkpointPath(dir)
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return ioError(tmp, err)
	}
	if _, err := f.Write(buf); err != nil {
		f.Close()
		return ioError(tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return ioError(tmp, err)
	}
	if err := f.Close(); err != nil {
		return ioError(tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return ioError(path, err)
	}
	logging.Debug("translog: checkpoint now points at generation %d", ckpt.Generation)
	return nil
}
