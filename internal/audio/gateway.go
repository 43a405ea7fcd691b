package audio

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-micprivacy/internal/privacy"
)

// HardwareCapture is the DMA side of the privacy block; it may zero data
// before software sees it.
type HardwareCapture interface {
	Capture(buf []byte)
}

// Sink receives every period after privacy enforcement.
type Sink func(id string, buf *PCMBuffer, levels Levels)

// StreamStatus is a point-in-time view of a capture gateway.
type StreamStatus struct {
	ID             string `json:"id"`
	State          string `json:"state"`
	DMADataZeroing bool   `json:"dma_data_zeroing"`
	Levels         Levels `json:"levels"`
	Copies         uint64 `json:"copies"`
	ZeroedCopies   uint64 `json:"zeroed_copies"`
}

// Gateway is a capture pipeline node. Each copy cycle pulls one period from
// the source through the hardware capture path and lets the privacy manager
// silence it before the sink sees it.
type Gateway struct {
	id   string
	mgr  *privacy.Manager
	data *privacy.Data
	src  Source
	hw   HardwareCapture
	sink Sink
	buf  *PCMBuffer

	level LevelData

	mu     sync.Mutex
	levels Levels
	copies uint64
	zeroed uint64
}

// NewGateway returns a gateway copying periodFrames frames per cycle. hw and
// sink may be nil.
func NewGateway(id string, mgr *privacy.Manager, src Source, hw HardwareCapture, periodFrames int, sink Sink) *Gateway {
	return &Gateway{
		id:     id,
		mgr:    mgr,
		data:   privacy.NewData(),
		src:    src,
		hw:     hw,
		sink:   sink,
		buf:    NewPCMBuffer(periodFrames),
		levels: Levels{RMSLeft: MinDB, RMSRight: MinDB, PeakLeft: MinDB, PeakRight: MinDB},
	}
}

// ID returns the stream identifier.
func (g *Gateway) ID() string {
	return g.id
}

// Data returns the stream's privacy context.
func (g *Gateway) Data() *privacy.Data {
	return g.data
}

// Start registers the stream with the manager and derives its initial
// privacy state from the port.
func (g *Gateway) Start() error {
	g.mgr.Attach(g.data)
	if err := g.mgr.UpdateGatewayState(g.data); err != nil {
		g.mgr.Detach(g.data)
		return err
	}
	slog.Info("capture stream started", "stream", g.id, "state", g.data.State())
	return nil
}

// Stop unregisters the stream from the manager.
func (g *Gateway) Stop() {
	g.mgr.Detach(g.data)
	slog.Info("capture stream stopped", "stream", g.id)
}

// Copy runs one copy cycle. An invalid privacy state is returned after the
// period has been delivered untouched.
func (g *Gateway) Copy() error {
	g.src.Read(g.buf.Bytes())
	if g.hw != nil {
		g.hw.Capture(g.buf.Bytes())
	}

	err := g.mgr.Process(g.data, g.buf, uint32(g.buf.Frames()))

	ProcessSamples(g.buf.Bytes(), &g.level)
	levels := CalculateLevels(&g.level)
	g.level.Reset()

	g.mu.Lock()
	g.levels = levels
	g.copies++
	if g.buf.IsSilent() {
		g.zeroed++
	}
	g.mu.Unlock()

	if g.sink != nil {
		g.sink(g.id, g.buf, levels)
	}
	return err
}

// Run copies one period per tick until ctx is done.
func (g *Gateway) Run(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := g.Copy(); err != nil {
				slog.Warn("copy cycle delivered unenforced audio", "stream", g.id, "error", err)
			}
		}
	}
}

// Status returns the current stream status.
func (g *Gateway) Status() StreamStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	return StreamStatus{
		ID:             g.id,
		State:          g.data.State().String(),
		DMADataZeroing: g.data.DMADataZeroing(),
		Levels:         g.levels,
		Copies:         g.copies,
		ZeroedCopies:   g.zeroed,
	}
}
