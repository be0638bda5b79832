// Package audioio connects the engine to the system audio server through
// PortAudio: two stereo capture streams (primary and secondary program) and
// one stereo playback stream, pumped in lock-step one block at a time.
//
// Stream buffers are interleaved stereo; the pump deinterleaves into
// preallocated planes before handing them to the processor and interleaves
// the result back. All buffers are sized once at Open, so the pump loop
// does not allocate.
package audioio

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"
)

const channels = 2

// Device describes an available audio device.
type Device struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Processor consumes one block of primary/secondary stereo input and fills
// the output. Buffers are valid only for the duration of the call.
type Processor interface {
	ProcessBlock(pL, pR, sL, sR, outL, outR []float32)
}

// Config selects devices and the session format. Device IDs of -1 pick the
// system defaults.
type Config struct {
	SampleRate        float64
	BlockSize         int
	PrimaryDeviceID   int
	SecondaryDeviceID int
	OutputDeviceID    int
}

// IO owns the PortAudio streams and the pump goroutine.
type IO struct {
	proc Processor
	cfg  Config

	primaryStream   *portaudio.Stream
	secondaryStream *portaudio.Stream
	outputStream    *portaudio.Stream

	// Interleaved stream buffers.
	primaryBuf   []float32
	secondaryBuf []float32
	outputBuf    []float32

	// Deinterleaved planes handed to the processor.
	pL, pR, sL, sR, outL, outR []float32

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Initialize starts the PortAudio runtime. Call once at startup; pair with
// Terminate on shutdown.
func Initialize() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("initialize portaudio: %w", err)
	}
	return nil
}

// Terminate shuts the PortAudio runtime down.
func Terminate() {
	if err := portaudio.Terminate(); err != nil {
		slog.Error("terminate portaudio", "err", err)
	}
}

// InputDevices lists devices usable as capture sources.
func InputDevices() []Device {
	return listDevices(func(d *portaudio.DeviceInfo) bool { return d.MaxInputChannels >= channels })
}

// OutputDevices lists devices usable as playback sinks.
func OutputDevices() []Device {
	return listDevices(func(d *portaudio.DeviceInfo) bool { return d.MaxOutputChannels >= channels })
}

func listDevices(match func(*portaudio.DeviceInfo) bool) []Device {
	devices, err := portaudio.Devices()
	if err != nil {
		slog.Error("list audio devices", "err", err)
		return nil
	}
	var out []Device
	for i, d := range devices {
		if match(d) {
			out = append(out, Device{ID: i, Name: d.Name})
		}
	}
	return out
}

func resolveDevice(devices []*portaudio.DeviceInfo, id int, fallback func() (*portaudio.DeviceInfo, error)) (*portaudio.DeviceInfo, error) {
	if id >= 0 && id < len(devices) {
		return devices[id], nil
	}
	return fallback()
}

// Open opens the three streams per cfg and binds them to proc. The
// processing context cannot start without a reachable audio server, so any
// failure here is returned to the caller; the control plane may keep
// serving regardless.
func Open(cfg Config, proc Processor) (*IO, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerate devices: %w", err)
	}

	primaryDev, err := resolveDevice(devices, cfg.PrimaryDeviceID, portaudio.DefaultInputDevice)
	if err != nil {
		return nil, fmt.Errorf("resolve primary input: %w", err)
	}
	secondaryDev, err := resolveDevice(devices, cfg.SecondaryDeviceID, portaudio.DefaultInputDevice)
	if err != nil {
		return nil, fmt.Errorf("resolve secondary input: %w", err)
	}
	outputDev, err := resolveDevice(devices, cfg.OutputDeviceID, portaudio.DefaultOutputDevice)
	if err != nil {
		return nil, fmt.Errorf("resolve output: %w", err)
	}

	n := cfg.BlockSize
	io := &IO{
		proc:         proc,
		cfg:          cfg,
		primaryBuf:   make([]float32, n*channels),
		secondaryBuf: make([]float32, n*channels),
		outputBuf:    make([]float32, n*channels),
		pL:           make([]float32, n),
		pR:           make([]float32, n),
		sL:           make([]float32, n),
		sR:           make([]float32, n),
		outL:         make([]float32, n),
		outR:         make([]float32, n),
		stopCh:       make(chan struct{}),
	}

	io.primaryStream, err = openCapture(primaryDev, cfg, io.primaryBuf)
	if err != nil {
		return nil, fmt.Errorf("open primary capture: %w", err)
	}
	io.secondaryStream, err = openCapture(secondaryDev, cfg, io.secondaryBuf)
	if err != nil {
		io.primaryStream.Close()
		return nil, fmt.Errorf("open secondary capture: %w", err)
	}
	io.outputStream, err = openPlayback(outputDev, cfg, io.outputBuf)
	if err != nil {
		io.primaryStream.Close()
		io.secondaryStream.Close()
		return nil, fmt.Errorf("open playback: %w", err)
	}

	slog.Info("audio streams opened",
		"primary", primaryDev.Name,
		"secondary", secondaryDev.Name,
		"output", outputDev.Name,
		"rate", cfg.SampleRate,
		"block", cfg.BlockSize)
	return io, nil
}

func openCapture(dev *portaudio.DeviceInfo, cfg Config, buf []float32) (*portaudio.Stream, error) {
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: channels,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      cfg.SampleRate,
		FramesPerBuffer: cfg.BlockSize,
	}
	return portaudio.OpenStream(params, buf)
}

func openPlayback(dev *portaudio.DeviceInfo, cfg Config, buf []float32) (*portaudio.Stream, error) {
	params := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: channels,
			Latency:  dev.DefaultLowOutputLatency,
		},
		SampleRate:      cfg.SampleRate,
		FramesPerBuffer: cfg.BlockSize,
	}
	return portaudio.OpenStream(params, buf)
}

// Start starts the streams and the pump goroutine.
func (io *IO) Start() error {
	if err := io.primaryStream.Start(); err != nil {
		return fmt.Errorf("start primary capture: %w", err)
	}
	if err := io.secondaryStream.Start(); err != nil {
		_ = io.primaryStream.Stop()
		return fmt.Errorf("start secondary capture: %w", err)
	}
	if err := io.outputStream.Start(); err != nil {
		_ = io.primaryStream.Stop()
		_ = io.secondaryStream.Stop()
		return fmt.Errorf("start playback: %w", err)
	}

	io.wg.Add(1)
	go func() {
		defer io.wg.Done()
		io.pumpLoop()
	}()
	return nil
}

// pumpLoop moves one block per iteration: capture both programs, process,
// play back. Read and Write block until the audio server is ready for the
// next period, which paces the loop at the block rate.
func (io *IO) pumpLoop() {
	for {
		select {
		case <-io.stopCh:
			return
		default:
		}

		if err := io.primaryStream.Read(); err != nil {
			if !io.stopping() {
				slog.Error("read primary capture", "err", err)
			}
			return
		}
		if err := io.secondaryStream.Read(); err != nil {
			if !io.stopping() {
				slog.Error("read secondary capture", "err", err)
			}
			return
		}

		deinterleave(io.primaryBuf, io.pL, io.pR)
		deinterleave(io.secondaryBuf, io.sL, io.sR)

		io.proc.ProcessBlock(io.pL, io.pR, io.sL, io.sR, io.outL, io.outR)

		interleave(io.outL, io.outR, io.outputBuf)
		if err := io.outputStream.Write(); err != nil {
			if !io.stopping() {
				slog.Error("write playback", "err", err)
			}
			return
		}
	}
}

func (io *IO) stopping() bool {
	select {
	case <-io.stopCh:
		return true
	default:
		return false
	}
}

// Stop halts the pump and tears the streams down.
func (io *IO) Stop() {
	close(io.stopCh)
	_ = io.primaryStream.Stop()
	_ = io.secondaryStream.Stop()
	_ = io.outputStream.Stop()
	io.wg.Wait()
	io.primaryStream.Close()
	io.secondaryStream.Close()
	io.outputStream.Close()
	slog.Info("audio streams stopped")
}

func deinterleave(src, left, right []float32) {
	for i := range left {
		left[i] = src[2*i]
		right[i] = src[2*i+1]
	}
}

func interleave(left, right, dst []float32) {
	for i := range left {
		dst[2*i] = left[i]
		dst[2*i+1] = right[i]
	}
}
