package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"

	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/usnistgov/mfbcontrol"
	"github.com/usnistgov/mfbcontrol/internal/updatequeue"
	"github.com/usnistgov/mfbcontrol/panda"
	"gopkg.in/natefinch/lumberjack.v2"
)

var githash = "githash not computed"
var gitdate = "git date not computed"
var buildDate = "build date not computed"

// updateQueueLimit bounds the diagnostics backlog if no one is draining it.
const updateQueueLimit = 10000

// makeFileExist checks that dir/filename exists, and creates the directory
// and file if it doesn't.
func makeFileExist(dir, filename string) (string, error) {
	// Replace 1 instance of "$HOME" in the path with the actual home directory.
	if strings.Contains(dir, "$HOME") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = strings.Replace(dir, "$HOME", home, 1)
	}

	if err := os.MkdirAll(dir, 0775); err != nil {
		return "", err
	}

	// Create an empty file path/filename, if it doesn't exist.
	fullname := path.Join(dir, filename)
	if _, err := os.Stat(fullname); os.IsNotExist(err) {
		f, err2 := os.OpenFile(fullname, os.O_WRONLY|os.O_CREATE, 0664)
		if err2 != nil {
			return "", err2
		}
		f.Close()
	}
	return fullname, nil
}

// setupViper sets up the viper configuration manager: says where to find config
// files and the filename and suffix. Sets the defaults.
func setupViper(dotDir string) error {
	mfbcontrol.SetViperDefaults()
	viper.SetDefault("portbase", 5600)

	const filename string = "config"
	const suffix string = ".yaml"
	if _, err := makeFileExist(dotDir, filename+suffix); err != nil {
		return err
	}

	viper.SetConfigName(filename)
	viper.SetConfigType("yaml")
	viper.AddConfigPath(dotDir)
	viper.AddConfigPath(filepath.FromSlash("/etc/mfbcontrol"))
	viper.AddConfigPath(".")
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

func startLogger(pfname string) *log.Logger {
	return log.New(&lumberjack.Logger{
		Filename:   pfname,
		MaxSize:    10,   // megabytes after which new file is created
		MaxBackups: 4,    // number of backups
		MaxAge:     180,  // days
		Compress:   true, // whether to gzip the backups
	}, "", log.LstdFlags)
}

var rootCmd = &cobra.Command{
	Use:   "mfbcontrol [flags] <panda-host>",
	Short: "Modulation feedback controller for a PandABox.",
	Long: `mfbcontrol modulates the DAC output of a PandABox, measures the ` +
		`response of the beam position monitor electrodes, and steers the ` +
		`DAC setpoint towards peak intensity.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if viper.GetBool("simulate") {
			return cobra.MaximumNArgs(1)(cmd, args)
		}
		return cobra.ExactArgs(1)(cmd, args)
	},
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	d := mfbcontrol.DefaultLoopConfig()
	flags := rootCmd.Flags()
	flags.Float64("mod-freq", d.ModFreq, "modulation frequency (Hz)")
	flags.Float64("mod-amp", d.ModAmp, "modulation amplitude (engineering units)")
	flags.Float64("samp-freq", d.SampFreq, "sampling frequency (Hz)")
	flags.Float64("control-freq", d.ControlFreq, "control loop frequency (Hz)")
	flags.Float64("control-gain", d.Gain, "gain applied to each correction")
	flags.Float64("min-sig", d.MinSignal, "minimum feedback amplitude needed to actuate")
	flags.String("state-file", "", "PandA configuration snapshot to load at startup")
	flags.String("log-level", "info", "log level: info or debug")
	flags.Bool("simulate", false, "drive a simulated beam instead of a PandABox")
	flags.Int("port-base", 5600, "first of the RPC, status and spectrum TCP ports")

	for key, flag := range map[string]string{
		"modfreq":     "mod-freq",
		"modamp":      "mod-amp",
		"sampfreq":    "samp-freq",
		"controlfreq": "control-freq",
		"controlgain": "control-gain",
		"minsig":      "min-sig",
		"statefile":   "state-file",
		"loglevel":    "log-level",
		"simulate":    "simulate",
		"portbase":    "port-base",
	} {
		if err := viper.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(err)
		}
	}
}

func run(cmd *cobra.Command, args []string) error {
	banner := fmt.Sprintf("\nThis is mfbcontrol version %s (git commit %s)\n", mfbcontrol.Build.Version, githash)
	fmt.Print(banner)

	// Start logging problems and updates to 2 log files.
	HOME, err := os.UserHomeDir()
	if err != nil {
		return err
	}
	dotDir := filepath.Join(HOME, ".mfbcontrol")
	logdir := filepath.Join(dotDir, "logs")
	problemname, err := makeFileExist(logdir, "problems.log")
	if err != nil {
		return err
	}
	logname, err := makeFileExist(logdir, "updates.log")
	if err != nil {
		return err
	}
	mfbcontrol.ProblemLogger = startLogger(problemname)
	mfbcontrol.UpdateLogger = startLogger(logname)
	fmt.Printf("Logging problems       to %s\n", problemname)
	fmt.Printf("Logging control updates to %s\n\n", logname)
	mfbcontrol.UpdateLogger.Printf("\n\n\n\n%s", banner)

	// Find config file, creating it if needed, and read it.
	if err := setupViper(dotDir); err != nil {
		return err
	}
	mfbcontrol.Verbose = viper.GetBool("Verbose") || strings.EqualFold(viper.GetString("loglevel"), "debug")
	mfbcontrol.SetPortnumbers(viper.GetInt("portbase"))

	cfg, err := mfbcontrol.LoopConfigFromViper()
	if err != nil {
		return err
	}
	mfbcontrol.UpdateLogger.Printf("mfbcontrol is using config file %s", viper.ConfigFileUsed())
	mfbcontrol.UpdateLogger.Printf("Loop configuration:\n%s", spew.Sdump(cfg))
	stateLines, err := mfbcontrol.ReadStateFile(cfg.StateFile)
	if err != nil {
		return err
	}

	var link mfbcontrol.HardwareLink
	if viper.GetBool("simulate") {
		simcfg := mfbcontrol.DefaultSimulatedLinkConfig()
		simcfg.SampleRate = cfg.SampFreq
		link = mfbcontrol.NewSimulatedLink(simcfg, cfg.Keys)
		fmt.Println("Driving a simulated beam")
	} else {
		link = panda.NewClient(args[0])
		fmt.Printf("Driving the PandA at %s\n", args[0])
	}

	updates := updatequeue.New[mfbcontrol.ClientUpdate](updateQueueLimit)
	hub := mfbcontrol.NewSpectrumHub()
	defer hub.Close()
	go func() {
		if err := mfbcontrol.RunClientUpdater(updates.Out(), mfbcontrol.Ports.Status, hub); err != nil {
			mfbcontrol.ProblemLogger.Printf("Client updater failed: %v", err)
		}
	}()
	go func() {
		if err := mfbcontrol.RunSpectrumServer(hub, mfbcontrol.Ports.Spectrum); err != nil {
			mfbcontrol.ProblemLogger.Printf("Spectrum server failed: %v", err)
		}
	}()

	params := mfbcontrol.NewControlParameters(cfg.Gain, cfg.MinSignal, true)
	loop, err := mfbcontrol.NewFeedbackLoop(link, cfg, params, updates.In(), stateLines)
	if err != nil {
		return err
	}
	go func() {
		if err := mfbcontrol.RunRPCServer(mfbcontrol.NewFeedbackControl(loop, updates.In()), mfbcontrol.Ports.RPC); err != nil {
			mfbcontrol.ProblemLogger.Printf("RPC server failed: %v", err)
		}
	}()
	fmt.Printf("Ports: RPC %d, status %d, spectrum %d\n",
		mfbcontrol.Ports.RPC, mfbcontrol.Ports.Status, mfbcontrol.Ports.Spectrum)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	err = loop.Run(ctx)
	if dropped := updates.Dropped(); dropped > 0 {
		mfbcontrol.ProblemLogger.Printf("%d client updates were dropped", dropped)
	}
	if errors.Is(err, context.Canceled) {
		fmt.Println("Stopped")
		return nil
	}
	return err
}

func main() {
	buildDate = strings.Replace(buildDate, ".", " ", -1) // workaround for Make problems
	mfbcontrol.Build.Date = buildDate
	mfbcontrol.Build.Githash = githash
	mfbcontrol.Build.Gitdate = gitdate
	mfbcontrol.Build.Summary = fmt.Sprintf("mfbcontrol version %s (git commit %s of %s)", mfbcontrol.Build.Version, githash, gitdate)
	if host, err := os.Hostname(); err == nil {
		mfbcontrol.Build.Host = host
	} else {
		mfbcontrol.Build.Host = "host not detected"
	}
	rootCmd.Version = mfbcontrol.Build.Version
	rootCmd.SetVersionTemplate(fmt.Sprintf("This is mfbcontrol version %s\nGit commit hash: %s\nBuild time: %s\nBuilt on go version %s\n",
		mfbcontrol.Build.Version, githash, buildDate, runtime.Version()))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
