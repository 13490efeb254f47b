// Copyright (c) 2023 Yandex LLC. All rights reserved.
// Use of this source code is governed by a MPL 2.0
// license that can be found in the LICENSE file.

package cli

import (
	"context"
	"expvar"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/yandex/muxload/core/config"
	"github.com/yandex/muxload/core/engine"
	"github.com/yandex/muxload/lib/zaputil"
)

const Version = "0.1.0"
const defaultConfigFile = "load"

var configSearchDirs = []string{"./", "./config", "/etc/muxload"}

type cliConfig struct {
	Engine     engine.Config     `config:",squash"`
	Log        zaputil.LogConfig `config:"log"`
	Monitoring monitoringConfig  `config:"monitoring"`
}

type monitoringConfig struct {
	Expvar     expvarConfig `config:"expvar"`
	CPUProfile string       `config:"cpuprofile"`
	MemProfile string       `config:"memprofile"`
}

type expvarConfig struct {
	Enabled  bool   `config:"enabled"`
	Endpoint string `config:"endpoint" validate:"endpoint"`
}

func defaultConfig() cliConfig {
	return cliConfig{
		Engine: engine.DefaultConfig(),
		Log:    zaputil.DefaultLogConfig(),
		Monitoring: monitoringConfig{
			Expvar: expvarConfig{Endpoint: ":1234"},
		},
	}
}

func Run() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of muxload: muxload [<config_filename>]\n"+"<config_filename> is './%s.(yaml|json|...)' by default\n", defaultConfigFile)
		flag.PrintDefaults()
	}
	var (
		example    bool
		expvarFlag bool
		cpuProfile string
		memProfile string
	)
	flag.BoolVar(&example, "example", false, "print example config to STDOUT and exit")
	flag.StringVar(&cpuProfile, "cpuprofile", "", "write cpu profile to file")
	flag.StringVar(&memProfile, "memprofile", "", "write memory profile to this file")
	flag.BoolVar(&expvarFlag, "expvar", false, "start HTTP server with monitoring variables")
	flag.Parse()

	if example {
		data, err := exampleConfig()
		if err != nil {
			panic(err)
		}
		fmt.Print(string(data))
		return
	}

	bootLog, err := zaputil.NewLogger(zaputil.DefaultLogConfig())
	if err != nil {
		panic(err)
	}
	conf, err := readConfig(afero.NewOsFs(), flag.Args())
	if err != nil {
		bootLog.Fatal("Config read failed", zap.Error(err))
	}
	log, err := zaputil.NewLogger(conf.Log)
	if err != nil {
		bootLog.Fatal("Logger build failed", zap.Error(err))
	}
	zap.ReplaceGlobals(log)
	zap.RedirectStdLog(log)
	log.Info("Muxload started", zap.String("version", Version))

	if expvarFlag {
		conf.Monitoring.Expvar.Enabled = true
	}
	if cpuProfile != "" {
		conf.Monitoring.CPUProfile = cpuProfile
	}
	if memProfile != "" {
		conf.Monitoring.MemProfile = memProfile
	}
	closeMonitoring := startMonitoring(log, conf.Monitoring)
	defer closeMonitoring()

	m := newEngineMetrics()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(log, cancel)
	stopReport := startReport(ctx, log, m)

	res, err := engine.New(log, m, conf.Engine).Run(ctx)
	stopReport()
	for _, rep := range res.Reports {
		log.Info("Worker report",
			zap.String("worker", rep.Worker),
			zap.Duration("elapsed", rep.Elapsed),
			zap.Float64("throughput", rep.Throughput),
			zap.Int("succeeded", rep.Succeeded),
			zap.Int("failed", rep.Failed),
			zap.Int("rejected", rep.Rejected),
			zap.Any("statuses", rep.Statuses),
			zap.Int64("peak-streams", rep.PeakStreams),
			zap.Int64("peak-connections", rep.PeakConnections))
	}
	if err != nil {
		// Failed transfers and workers are load test results, not process failure.
		log.Error("Engine run finished with errors", zap.Error(err))
		return
	}
	log.Info("Engine run successfully finished")
}

func readConfig(fs afero.Fs, args []string) (cliConfig, error) {
	v := newViper(fs)
	if len(args) > 0 {
		v.SetConfigFile(args[0])
	}
	conf := defaultConfig()
	if err := v.ReadInConfig(); err != nil {
		return conf, errors.Wrap(err, "read")
	}
	zap.L().Info("Config read", zap.String("file", v.ConfigFileUsed()))
	if err := config.DecodeAndValidate(v.AllSettings(), &conf); err != nil {
		return conf, errors.WithMessagef(err, "%s decode", v.ConfigFileUsed())
	}
	return conf, nil
}

func newViper(fs afero.Fs) *viper.Viper {
	v := viper.New()
	v.SetFs(fs)
	v.SetConfigName(defaultConfigFile)
	for _, dir := range configSearchDirs {
		v.AddConfigPath(dir)
	}
	return v
}

func handleSignals(log *zap.Logger, interrupt func()) {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigs:
		switch sig {
		case syscall.SIGINT:
			const interruptTimeout = 5 * time.Second
			log.Info("SIGINT received. Trying to stop gracefully.", zap.Duration("timeout", interruptTimeout))
			interrupt()
			select {
			case <-time.After(interruptTimeout):
				log.Fatal("Interrupt timeout exceeded")
			case sig := <-sigs:
				log.Fatal("Another signal received. Quiting.", zap.Stringer("signal", sig))
			}
		case syscall.SIGTERM:
			log.Fatal("SIGTERM received. Quiting.")
		default:
			log.Fatal("Unexpected signal received. Quiting.", zap.Stringer("signal", sig))
		}
	}
}

func startMonitoring(log *zap.Logger, conf monitoringConfig) (stop func()) {
	if conf.Expvar.Enabled {
		expvar.Publish("version", expvar.Func(func() interface{} { return Version }))
		go func() {
			log.Info("Monitoring server started", zap.String("endpoint", conf.Expvar.Endpoint))
			err := http.ListenAndServe(conf.Expvar.Endpoint, nil)
			log.Fatal("Monitoring server failed", zap.Error(err))
		}()
	}
	var stops []func()
	if conf.CPUProfile != "" {
		f, err := os.Create(conf.CPUProfile)
		if err != nil {
			log.Fatal("CPU profile file create fail", zap.Error(err))
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal("CPU profile start fail", zap.Error(err))
		}
		stops = append(stops, func() {
			pprof.StopCPUProfile()
			_ = f.Close()
		})
	}
	if conf.MemProfile != "" {
		f, err := os.Create(conf.MemProfile)
		if err != nil {
			log.Fatal("Memory profile file create fail", zap.Error(err))
		}
		stops = append(stops, func() {
			if err := pprof.WriteHeapProfile(f); err != nil {
				log.Warn("Memory profile write fail", zap.Error(err))
			}
			_ = f.Close()
		})
	}
	stop = func() {
		for _, s := range stops {
			s()
		}
	}
	return
}
