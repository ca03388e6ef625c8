package app

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/magnet_tracker/internal/config"
	"github.com/relabs-tech/magnet_tracker/internal/pipeline"
)

// FormatState renders one state as a console line.
func FormatState(st pipeline.State) string {
	if st.Fatal {
		return fmt.Sprintf("[FATAL] %s", st.Status)
	}
	line := fmt.Sprintf("[%-11s %3.0f%%] ", st.Calibration.Phase, st.Calibration.Progress)
	if st.Calibration.Phase != "calibrated" {
		line += fmt.Sprintf("raw=(%7.2f %7.2f %7.2f)", st.Raw.X, st.Raw.Y, st.Raw.Z)
	} else {
		line += fmt.Sprintf("field=(%7.2f %7.2f %7.2f) |B|=%7.2fµT", st.Field.X, st.Field.Y, st.Field.Z, st.Magnitude)
		if st.MagnetPresent {
			meta := st.Classification.Label.Meta()
			line += fmt.Sprintf("  MAGNET %s %s %3.0f%%", meta.Icon, meta.Name, st.Classification.Confidence*100)
		}
	}
	if st.ClassificationError != "" {
		line += "  classifier: " + st.ClassificationError
	}
	if st.Recording {
		line += "  [REC]"
	}
	return line + "  | " + st.Status
}

// consolePrinter prints at most one line per interval, plus every line
// where the phase, presence or fatal flag changed.
type consolePrinter struct {
	interval time.Duration
	print    func(string)

	mu      sync.Mutex
	last    time.Time
	prev    pipeline.State
	started bool
}

func (p *consolePrinter) handle(st pipeline.State, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	changed := !p.started ||
		st.Calibration.Phase != p.prev.Calibration.Phase ||
		st.MagnetPresent != p.prev.MagnetPresent ||
		st.Classification.Label != p.prev.Classification.Label ||
		st.Fatal != p.prev.Fatal
	if changed || now.Sub(p.last) >= p.interval {
		p.print(FormatState(st))
		p.last = now
	}
	p.prev = st
	p.started = true
}

// RunConsoleMQTT prints the tracker state until ctx is done.
func RunConsoleMQTT(ctx context.Context, cfg *config.Config) error {
	client, err := connectMQTT("console", cfg.MQTTBroker, cfg.MQTTClientIDConsole)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	printer := &consolePrinter{
		interval: time.Duration(cfg.ConsoleLogInterval) * time.Millisecond,
		print:    func(s string) { fmt.Println(s) },
	}
	err = subscribe("console", client, cfg.TopicState, func(_ mqtt.Client, msg mqtt.Message) {
		st, err := pipeline.DecodeState(msg.Payload())
		if err != nil {
			log.Printf("console: state unmarshal error: %v", err)
			return
		}
		printer.handle(st, time.Now())
	})
	if err != nil {
		return err
	}

	<-ctx.Done()
	log.Println("console: shutting down")
	return nil
}
