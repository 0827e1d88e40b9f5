package config

const (
	defaultConfigPath             = "~/.config/gantrymon/config.toml"
	defaultStateDir               = "~/.local/share/gantrymon"
	defaultLogDir                 = "~/.local/share/gantrymon/logs"
	defaultAPIBind                = "127.0.0.1:5455"
	defaultIncomingDir            = "/home/gantry"
	defaultTransferRoot           = "/gantry_data"
	defaultScanLogDir             = "/var/log"
	defaultMinFileAgeMinutes      = 60
	defaultScanInterval           = 120
	defaultMaxPending             = 100000
	defaultTransferBaseURL        = "https://transfer.api.globusonline.org/v0.10"
	defaultDestinationRoot        = "/ua-mac/raw_data"
	defaultMaxActiveTasks         = 5
	defaultMaxFilesPerBatch       = 10000
	defaultSubmitInterval         = 60
	defaultAuthRefreshInterval    = 43200
	defaultTransferRequestTimeout = 60
	defaultTransferRateLimit      = 5
	defaultLedgerDriver           = "sqlite"
	defaultAgentBaseURL           = "https://terraref.ncsa.illinois.edu/clowder/api/users"
	defaultContextURL             = "https://clowder.ncsa.illinois.edu/contexts/metadata.jsonld"
	defaultVocabulary             = "https://terraref.ncsa.illinois.edu/metadata/uamac#"
	defaultReconcileInterval      = 30
	defaultMaxRetries             = 5
	defaultIngestWorkers          = 2
	defaultDownstreamRateLimit    = 10
	defaultDownstreamTimeout      = 120
	defaultCleanupInterval        = 600
	defaultNotifyRequestTimeout   = 10
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
	defaultLogRetentionDays       = 30
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
			APIBind:  defaultAPIBind,
		},
		Scanner: Scanner{
			IncomingDir:       defaultIncomingDir,
			TransferRoot:      defaultTransferRoot,
			LogDir:            defaultScanLogDir,
			LogSources:        DefaultLogSources(),
			MinFileAgeMinutes: defaultMinFileAgeMinutes,
			ScanInterval:      defaultScanInterval,
			MaxPending:        defaultMaxPending,
			SkipDatasets:      []string{"LemnaTec - MovingSensor"},
		},
		Transfer: Transfer{
			BaseURL:             defaultTransferBaseURL,
			DestinationRoot:     defaultDestinationRoot,
			MaxActiveTasks:      defaultMaxActiveTasks,
			MaxFilesPerBatch:    defaultMaxFilesPerBatch,
			SubmitInterval:      defaultSubmitInterval,
			AuthRefreshInterval: defaultAuthRefreshInterval,
			RequestTimeout:      defaultTransferRequestTimeout,
			RateLimit:           defaultTransferRateLimit,
			PathRewrites:        DefaultPathRewrites(),
			Reclassify:          DefaultReclassify(),
			DropSegmentsContain: []string{"MovingSensor.reproc"},
		},
		Ledger: Ledger{
			Driver: defaultLedgerDriver,
		},
		Downstream: Downstream{
			AgentBaseURL:      defaultAgentBaseURL,
			ContextURL:        defaultContextURL,
			Vocabulary:        defaultVocabulary,
			ReconcileInterval: defaultReconcileInterval,
			MaxRetries:        defaultMaxRetries,
			IngestWorkers:     defaultIngestWorkers,
			RateLimit:         defaultDownstreamRateLimit,
			RequestTimeout:    defaultDownstreamTimeout,
		},
		Cleanup: Cleanup{
			Interval:       defaultCleanupInterval,
			PruneEmptyDirs: true,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			TaskFailures:   true,
			LogGaps:        true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}

// DefaultLogSources returns the gantry FTP transfer log and the NAS path log.
func DefaultLogSources() []LogSource {
	return []LogSource{
		{Name: "nas", Format: "paths", Live: "nas.log"},
		{Name: "ftp", Format: "xferlog", Live: "xferlog", RotatedPrefix: "xferlog-"},
	}
}

// DefaultPathRewrites flattens the gantry's vendor folders out of archive paths.
func DefaultPathRewrites() []PathRewrite {
	return []PathRewrite{
		{Match: "LemnaTec/"},
		{Match: "MovingSensor/"},
		{Match: "MAC/"},
		{Match: "3DScannerRawDataTopTmp/"},
		{Match: "3DScannerRawDataLowerOnEastSideTmp/"},
		{Match: "3DScannerRawDataLowerOnWestSideTmp/"},
	}
}

// DefaultReclassify routes 3D scanner point clouds to the processed tree.
func DefaultReclassify() []Reclassify {
	return []Reclassify{
		{
			Extensions:   []string{".ply"},
			PathContains: []string{"scanner3DTop", "scanner3DLowerOnEastSide", "scanner3DLowerOnWestSide"},
			From:         "raw_data",
			To:           "Level_1",
		},
	}
}
