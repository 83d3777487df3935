package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/theckman/yacspin"

	yml "gopkg.in/yaml.v2"

	"github.com/lightsheet/navigate/acquire"
	"github.com/lightsheet/navigate/buffer"
	"github.com/lightsheet/navigate/config"
	"github.com/lightsheet/navigate/devices"
	"github.com/lightsheet/navigate/httpapi"
	"github.com/lightsheet/navigate/preview"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "navigate.yml"
	k              = koanf.New(".")
)

func defaults() config.Config {
	return config.Config{
		Addr:         ":8000",
		Synthetic:    true,
		BufferFrames: 32,
		Camera:       config.CameraGeometry{Width: 2048, Height: 2048, BytesPerPixel: 2},
		Waveforms: config.Waveforms{
			SampleRateHz:  100e3,
			SettleTimeMs:  5,
			ReadoutTimeMs: 10,
		},
		Experiment: config.MicroscopeState{
			ResolutionMode:   config.ResolutionLow,
			StackCyclingMode: config.PerStack,
			NumberZSteps:     100,
			Timepoints:       1,
			Channels: []config.ChannelSettings{
				{Index: 1, Selected: true, ExposureTimeMs: 10, LaserIndex: 0, LaserPower: 20},
			},
		},
		Saving: config.Saving{RootDirectory: ".", FileName: "navigate.n5"},
	}
}

func setupconfig() {
	k.Load(structs.Provider(defaults(), "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func root() {
	str := `navigate runs a light sheet microscope and exposes an HTTP interface to it.
This enables a server-client architecture, and the clients can leverage the
excellent HTTP libraries for any programming language.

Usage:
	navigate <command>

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `navigate is amenable to configuration via its .yaml file.  For a primer on YAML, see
https://yaml.org/start.html

Without a configuration, the server runs with synthetic hardware: every device
facade is replaced by a software twin, and the camera produces counter-filled
frames.  This is the right mode for development and for exercising clients.

The devices section maps each facade to a driver.  Device "type" fields, case
insensitive:
- camera:       "synthetic"
- stage:        "synthetic", "asi-tiger"
- shutter:      "synthetic"
- filter-wheel: "synthetic", "asi-wheel"
- lasers:       "synthetic"
- zoom:         "synthetic", "servo"
- daq:          "synthetic"

Serial devices take "addr" as a device path (/dev/ttyS4) with serial: true;
networked devices take host:port.  Filter wheels and zoom servos take a
"positions" table mapping labels to controller counts.`
	fmt.Println(str)
}

func mkconf() {
	c := config.Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := config.Config{}
	k.Unmarshal("", &c)
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("navigate version %v\n", Version)
}

// connect brings up the hardware behind a spinner so slow serial devices
// do not look like a hang
func connect(hw *devices.Hardware) error {
	cfg := yacspin.Config{
		Frequency:       100 * time.Millisecond,
		CharSet:         yacspin.CharSets[59],
		Suffix:          " connecting to microscope hardware",
		SuffixAutoColon: true,
		StopCharacter:   "✓",
		StopColors:      []string{"fgGreen"},
	}
	spinner, err := yacspin.New(cfg)
	if err != nil {
		// no terminal is not an error worth dying over
		return hw.Connect()
	}
	spinner.Start()
	err = hw.Connect()
	if err != nil {
		spinner.StopFail()
		return err
	}
	spinner.Stop()
	return nil
}

func run() {
	c := config.Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}

	hw, err := devices.Build(devices.NewRegistry(), c)
	if err != nil {
		log.Fatal(err)
	}
	if err := connect(hw); err != nil {
		log.Fatal(err)
	}
	defer hw.Disconnect()

	ring := buffer.New(c.BufferFrames, c.Camera.Width, c.Camera.Height)
	orch := acquire.New(c, hw, ring)
	rec := preview.NewRecorder(c.Saving.RootDirectory, "preview-", c.Camera.Width, c.Camera.Height)
	orch.SetDisplay(rec)

	srv := httpapi.NewServer(c, orch, rec)
	mux := chi.NewRouter()
	mux.Use(middleware.Logger)
	mux.Mount("/", srv.Router())

	log.Println("now listening for requests at ", c.Addr)
	log.Fatal(http.ListenAndServe(c.Addr, mux))
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
