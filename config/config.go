package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	DefaultEvidenceSubDir    = "evidence"
	DefaultDebugFramesSubDir = "debug_frames"
)

const (
	defaultBackendTimeoutSeconds = 15
	defaultAnnotatorQueueSize    = 16
	defaultNumAnnotatorWorkers   = 1
)

type Config struct {
	// HTTP listen port for the operational API
	ListenPort string

	// local operational database (event journal/spool, registry, caches)
	DatabasePath string

	// media storage configuration
	MediaStoragePath string // primary root for generated assets (evidence crops, debug frames)
	EvidencePath     string // full-calculated path for evidence crops
	DebugFramesPath  string // full-calculated path for annotated debug frames

	// DNN model paths
	DetectorModelPath string
	EmbedderModelPath string

	// pipeline configuration file (cameras, thresholds, cooldown, ...)
	PipelineConfigPath string

	// record-of-truth service
	BackendBaseURL        string
	BackendTimeoutSeconds int

	// MQTT bus; empty broker URL disables the bus entirely
	MQTTBrokerURL string
	MQTTClientID  string

	// annotator worker settings
	AnnotatorQueueSize  int
	NumAnnotatorWorkers int

	// allowed CORS origins for the ops UI
	CORSAllowedOrigins []string
}

func getEnvOrDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvIntOrDefault(envVar string, defaultVal int) int {
	valStr := os.Getenv(envVar)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(valStr)
	if err != nil || val <= 0 {
		log.Printf("Warning: Invalid %s '%s'. Using default %d. Error: %v", envVar, valStr, defaultVal, err)
		return defaultVal
	}
	return val
}

func LoadConfig() (Config, error) {
	port := getEnvOrDefault("LISTEN_PORT", getEnvOrDefault("PORT", "8080"))

	dbPath := getEnvOrDefault("DATABASE_PATH", "fuacs.db")

	mediaStorage := getEnvOrDefault("MEDIA_STORAGE_PATH", filepath.Join(".", "media_storage"))
	absMediaStorage, err := filepath.Abs(mediaStorage)
	if err != nil {
		return Config{}, fmt.Errorf("failed to get absolute path for media storage '%s': %w", mediaStorage, err)
	}

	evidenceSubDir := getEnvOrDefault("EVIDENCE_SUBDIR", DefaultEvidenceSubDir)
	absEvidencePath := filepath.Join(absMediaStorage, evidenceSubDir)

	debugSubDir := getEnvOrDefault("DEBUG_FRAMES_SUBDIR", DefaultDebugFramesSubDir)
	absDebugFramesPath := filepath.Join(absMediaStorage, debugSubDir)

	detectorModel := getEnvOrDefault("DETECTOR_MODEL_PATH", "./models/retinaface_640.onnx")
	embedderModel := getEnvOrDefault("EMBEDDER_MODEL_PATH", "./models/arcface_r100.onnx")

	pipelinePath := getEnvOrDefault("PIPELINE_CONFIG_PATH", "./pipeline.yml")

	backendURL := strings.TrimRight(getEnvOrDefault("BACKEND_BASE_URL", "http://localhost:9000"), "/")
	backendTimeout := getEnvIntOrDefault("BACKEND_TIMEOUT_SECONDS", defaultBackendTimeoutSeconds)

	mqttBroker := getEnvOrDefault("MQTT_BROKER_URL", "")
	mqttClientID := getEnvOrDefault("MQTT_CLIENT_ID", "fuacs-recognition")

	annotatorQueue := getEnvIntOrDefault("ANNOTATOR_QUEUE_SIZE", defaultAnnotatorQueueSize)
	annotatorWorkers := getEnvIntOrDefault("NUM_ANNOTATOR_WORKERS", defaultNumAnnotatorWorkers)

	var origins []string
	for _, o := range strings.Split(getEnvOrDefault("CORS_ALLOWED_ORIGINS", "http://localhost:5173"), ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			origins = append(origins, o)
		}
	}

	cfg := Config{
		ListenPort:            port,
		DatabasePath:          dbPath,
		MediaStoragePath:      absMediaStorage,
		EvidencePath:          absEvidencePath,
		DebugFramesPath:       absDebugFramesPath,
		DetectorModelPath:     detectorModel,
		EmbedderModelPath:     embedderModel,
		PipelineConfigPath:    pipelinePath,
		BackendBaseURL:        backendURL,
		BackendTimeoutSeconds: backendTimeout,
		MQTTBrokerURL:         mqttBroker,
		MQTTClientID:          mqttClientID,
		AnnotatorQueueSize:    annotatorQueue,
		NumAnnotatorWorkers:   annotatorWorkers,
		CORSAllowedOrigins:    origins,
	}

	return cfg, nil
}
