package synctrace

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
)

// Stage is a step of a save or reconcile pass.
type Stage string

const (
	StageFetchedBroadcaster Stage = "fetched_broadcaster"
	StageFetchedGlobal      Stage = "fetched_global"
	StageDecoded            Stage = "decoded"
	StageValidated          Stage = "validated"
	StageWrittenGlobal      Stage = "written_global"
	StageWrittenBroadcaster Stage = "written_broadcaster"
	StageBroadcast          Stage = "broadcast"
	StageCached             Stage = "cached"

	StageFallbackPrefix = "fallback_"
)

// StageFallback names a fallback taken for reason.
func StageFallback(reason string) Stage {
	return Stage(fmt.Sprintf("%s%s", StageFallbackPrefix, reason))
}

// Trace follows one record through a sync pass.
type Trace struct {
	Side      string // "admin" or "viewer"
	Signature string
	Encoding  string
	TraceID   string

	mu       sync.Mutex
	counters map[Stage]int64
}

func New(side, signature, encoding string) *Trace {
	return &Trace{
		Side:      side,
		Signature: signature,
		Encoding:  encoding,
		TraceID:   computeTraceID(side, signature),
		counters:  make(map[Stage]int64),
	}
}

// Inc increments stage and returns the new count. A nil trace is a no-op.
func (t *Trace) Inc(stage Stage) int64 {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.counters[stage]++
	return t.counters[stage]
}

// Count returns the counter for stage.
func (t *Trace) Count(stage Stage) int64 {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counters[stage]
}

func (t *Trace) Log(logger *slog.Logger, msg string) {
	if t == nil {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info(msg,
		"trace_id", t.TraceID,
		"side", t.Side,
		"signature", t.Signature,
		"encoding", t.Encoding,
		"counters", t.snapshot(),
	)
}

func (t *Trace) snapshot() map[Stage]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[Stage]int64, len(t.counters))
	for stage, count := range t.counters {
		out[stage] = count
	}
	return out
}

func computeTraceID(side, signature string) string {
	digest := sha256.Sum256([]byte(side + "\x1f" + signature))
	return hex.EncodeToString(digest[:8])
}
