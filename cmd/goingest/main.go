package main

import (
	"flag"
	"os"
	"path/filepath"

	"github.com/kardianos/service"
	log "github.com/sirupsen/logrus"

	"github.com/RoanBrand/goingest"
	"github.com/RoanBrand/goingest/internal/logging"
)

type program struct {
	server     goingest.Server
	configFlag string
	execDir    string
}

func (p *program) Start(s service.Service) error {
	if p.configFlag != "" {
		if err := p.server.LoadFromFile(p.configFlag); err != nil {
			return err
		}
		log.Infoln("Using config file:", p.configFlag)
	} else if toTry, ok := findConfig(p.execDir); ok {
		if err := p.server.LoadFromFile(toTry); err != nil {
			return err
		}
		log.Infoln("Using config file:", toTry)
	} else {
		log.Infoln("No config file specified or found. Using defaults.")
	}

	if err := p.server.Start(); err != nil {
		return err
	}
	go func() {
		if err := p.server.Run(); err != nil {
			log.Fatal(err)
		}
	}()
	return nil
}

func (p *program) Stop(s service.Service) error {
	p.server.Shutdown()
	return nil
}

func main() {
	svcFlag := flag.String("service", "", "Control the system service.")
	cnfFlag := flag.String("c", "", "Path of config file (.json, .yaml).")
	flag.Parse()

	ePath, err := os.Executable()
	if err != nil {
		log.Fatal(err)
	}
	eDir, _ := filepath.Split(ePath)

	// Set defaults before config override.
	if service.Interactive() {
		log.SetLevel(log.DebugLevel)
		logging.UseConsole()
	} else if err := logging.Setup(filepath.Join(eDir, "goingest.log"), "info"); err != nil {
		log.Fatal(err)
	}

	prg := program{configFlag: *cnfFlag, execDir: eDir}
	svcConfig := service.Config{
		Name:        "goingest",
		DisplayName: "goingest MQTT ingest server",
		Description: "Stores every PUBLISH received over MQTT v5 in an append-only table.",
	}

	s, err := service.New(&prg, &svcConfig)
	if err != nil {
		log.Fatal(err)
	}

	if len(*svcFlag) != 0 {
		err := service.Control(s, *svcFlag)
		if err != nil {
			log.Printf("Valid actions: %q\n", service.ControlAction)
			log.Fatal(err)
		}
		return
	}

	if err = s.Run(); err != nil {
		log.Fatal(err)
	}
}

// findConfig looks for a config file next to the executable.
func findConfig(dir string) (string, bool) {
	for _, name := range []string{"config.json", "config.yaml", "config.yml"} {
		p := filepath.Join(dir, name)
		if fileExists(p) {
			return p, true
		}
	}
	return "", false
}

func fileExists(filename string) bool {
	info, err := os.Stat(filename)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}
