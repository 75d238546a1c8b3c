package clean

import (
	"time"

	"github.com/Tereshaa/DocNexus-Teresha-Assignment/internal/pkg/cmdapp"
)

// Cleaner drops stale working data
type Cleaner interface {
	Clean() error
}

type timerServiceData struct {
	runEvery     time.Duration
	cleaner      Cleaner
	qChan        chan struct{}
	workWaitChan chan struct{}
}

// StartCleanTimer runs the cleaner on startup and then periodically.
// The returned stop function waits for the loop to exit
func StartCleanTimer(cleaner Cleaner, runEvery time.Duration) func() {
	data := &timerServiceData{runEvery: runEvery, cleaner: cleaner,
		qChan: make(chan struct{}), workWaitChan: make(chan struct{})}
	cmdapp.Log.Infof("Starting clean timer every %v", data.runEvery)
	go serviceLoop(data)
	return func() {
		close(data.qChan)
		<-data.workWaitChan
	}
}

func serviceLoop(data *timerServiceData) {
	ticker := time.NewTicker(data.runEvery)
	doClean(data)
mainloop:
	for {
		select {
		case <-ticker.C:
			doClean(data)
		case <-data.qChan:
			ticker.Stop()
			break mainloop
		}
	}
	cmdapp.Log.Infof("Stopped clean timer")
	close(data.workWaitChan)
}

func doClean(data *timerServiceData) {
	if err := data.cleaner.Clean(); err != nil {
		cmdapp.Log.Error(err)
	}
}
