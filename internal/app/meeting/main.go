package meeting

import (
	"os"
	"time"

	"github.com/Tereshaa/DocNexus-Teresha-Assignment/internal/pkg/analyzer"
	"github.com/Tereshaa/DocNexus-Teresha-Assignment/internal/pkg/audio"
	"github.com/Tereshaa/DocNexus-Teresha-Assignment/internal/pkg/clean"
	"github.com/Tereshaa/DocNexus-Teresha-Assignment/internal/pkg/cmdapp"
	"github.com/Tereshaa/DocNexus-Teresha-Assignment/internal/pkg/crm"
	"github.com/Tereshaa/DocNexus-Teresha-Assignment/internal/pkg/inform"
	"github.com/Tereshaa/DocNexus-Teresha-Assignment/internal/pkg/mongo"
	"github.com/Tereshaa/DocNexus-Teresha-Assignment/internal/pkg/saver"
	"github.com/Tereshaa/DocNexus-Teresha-Assignment/internal/pkg/transcriber"
	"github.com/spf13/cobra"

	"github.com/heptiolabs/healthcheck"
)

var appName = "Meeting Recording Service"

var rootCmd = &cobra.Command{
	Use:   "meetingService",
	Short: appName,
	Long:  `HTTP server to upload meeting recordings, transcribe and analyze them`,
	Run:   run,
}

func init() {
	cmdapp.InitApplication(rootCmd)
	rootCmd.PersistentFlags().Int32P("port", "", 8080, "Default service port")
	cmdapp.Config.BindPFlag("port", rootCmd.PersistentFlags().Lookup("port"))
	cmdapp.Config.SetDefault("fileStorage.path", "/data/recordings/")
	cmdapp.Config.SetDefault("fileStorage.tmp", os.TempDir())
	cmdapp.Config.SetDefault("upload.maxSizeMb", 100)
	cmdapp.Config.SetDefault("upload.dedupeWindow", "2m")
	cmdapp.Config.SetDefault("clean.runEvery", "10m")
	cmdapp.Config.SetDefault("clean.maxAge", "2h")
}

// Execute starts the server
func Execute() {
	cmdapp.Execute(rootCmd)
}

func run(cmd *cobra.Command, args []string) {
	cmdapp.Log.Info("Starting " + appName)
	data := ServiceData{}
	data.Health = healthcheck.NewHandler()

	fs, err := saver.NewLocalFileStorage(cmdapp.Config.GetString("fileStorage.path"))
	cmdapp.CheckOrPanic(err, "Can't init file storage")
	data.Storage = fs
	data.Health.AddLivenessCheck("fs", fs.HealthyFunc())

	mongoSessionProvider, err := mongo.NewSessionProvider()
	cmdapp.CheckOrPanic(err, "Can't init mongo")
	defer mongoSessionProvider.Close()
	data.Health.AddLivenessCheck("mongo", healthcheck.Async(mongoSessionProvider.Healthy, 10*time.Second))

	records, err := mongo.NewRecordStore(mongoSessionProvider)
	cmdapp.CheckOrPanic(err, "Can't init record store")
	data.Records = records

	tmpDir := cmdapp.Config.GetString("fileStorage.tmp")
	trClient, err := transcriber.NewClient()
	cmdapp.CheckOrPanic(err, "Can't init transcriber client")
	anClient, err := analyzer.NewClient()
	cmdapp.CheckOrPanic(err, "Can't init analyzer client")
	extractor, err := audio.NewExtractor(tmpDir)
	cmdapp.CheckOrPanic(err, "Can't init audio extractor")

	pipeline, err := NewPipeline(records, fs, trClient, anClient, extractor)
	cmdapp.CheckOrPanic(err, "Can't init pipeline")
	data.Pipeline = pipeline

	if cmdapp.Config.GetString("smtp.host") != "" {
		maker, err := inform.NewSimpleEmailMaker(cmdapp.Config)
		cmdapp.CheckOrPanic(err, "Can't init email maker")
		sender, err := inform.NewSimpleEmailSender()
		cmdapp.CheckOrPanic(err, "Can't init email sender")
		notifier, err := inform.NewNotifier(maker, sender)
		cmdapp.CheckOrPanic(err, "Can't init notifier")
		pipeline.Notifier = notifier
	} else {
		cmdapp.Log.Info("No smtp.host configured, email notifications disabled")
	}

	syncer, err := crm.NewClient()
	cmdapp.CheckOrPanic(err, "Can't init CRM client")
	data.Syncer = syncer
	mapper, err := crm.NewFileMapping(cmdapp.Config.GetString("crm.mappingFile"))
	cmdapp.CheckOrPanic(err, "Can't init CRM mapping")
	data.Mapper = mapper

	data.Hub = NewEventHub(records)
	events := make(chan StatusEvent, 100)
	pipeline.Events = events
	go data.Hub.Listen(events)

	cleaner, err := clean.NewOldFileCleaner(tmpDir, cmdapp.Config.GetDuration("clean.maxAge"))
	cmdapp.CheckOrPanic(err, "Can't init file cleaner")
	stopCleanTimer := StartCleanTimer(cleaner)
	defer stopCleanTimer()

	data.TmpDir = tmpDir
	data.MaxSizeBytes = cmdapp.Config.GetInt64("upload.maxSizeMb") * 1024 * 1024
	data.DedupeWindow = cmdapp.Config.GetDuration("upload.dedupeWindow")
	data.Port = cmdapp.Config.GetInt("port")

	err = StartWebServer(&data)
	cmdapp.CheckOrPanic(err, "Can't start web server")
}

// StartCleanTimer runs the tmp dir cleaner on the configured interval
func StartCleanTimer(cleaner clean.Cleaner) func() {
	return clean.StartCleanTimer(cleaner, cmdapp.Config.GetDuration("clean.runEvery"))
}
