// Пакет config отвечает за сбор и предоставление конфигурации всего приложения
// (планировщик отложенных публикаций в Telegram-каналы). Он:
//  1. читает переменные окружения из .env (через godotenv),
//  2. нормализует и валидирует входные значения,
//  3. фиксирует часовую зону приложения (AppLocation),
//  4. предоставляет доступ к результату через singleton.
//
// Бизнес-контекст: конфиг управляет выбором транспорта публикации (Bot API или
// MTProto), путями к базе и каталогу медиа, скоростными лимитами отправки,
// таймаутами крупных загрузок, логированием и сроком хранения медиафайлов.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"telegram-postbot/internal/infra/timeutil"

	"github.com/joho/godotenv"
)

// EnvConfig описывает параметры, приходящие из окружения (.env). Это «операционные»
// настройки запуска: учетные данные Bot API/MTProto, пути хранения, лог-уровень,
// ограничения по скорости и таймауты публикации.
//
// NB: значения уже проходят минимальную валидацию и нормализацию в loadConfig.
// В рантайме по месту использования предполагается, что EnvConfig последователен.
type EnvConfig struct {
	AppTimezone string
	LogLevel    string

	// Хранилище
	DBPath             string
	UploadsDir         string
	MediaRetentionDays int

	// Транспорт публикации
	Publisher   string // botapi | mtproto
	BotToken    string
	BotAPITest  bool
	APIID       int
	APIHash     string
	PhoneNumber string
	SessionFile string
	PeersFile   string

	// Скорость и таймауты отправки
	SendRate          float64
	PoolSize          int
	ConnectTimeoutSec int
	RWTimeoutSec      int

	// Файловое логирование
	LogFile           string
	LogFileMaxSize    int
	LogFileMaxBackups int
	LogFileMaxAge     int
	LogFileCompress   bool
}

// Config хранит конфигурацию среды.
//
// Потокобезопасность: публичные геттеры берут RLock. Конфиг загружается один
// раз на старте и далее не мутирует.
type Config struct {
	Env      EnvConfig
	warnings []string     // предупреждения, накопленные при чтении окружения
	mu       sync.RWMutex // защита конкурентного доступа к конфигурации
}

// PublisherBotAPI и PublisherMTProto — допустимые значения PUBLISHER.
const (
	PublisherBotAPI  = "botapi"
	PublisherMTProto = "mtproto"
)

// Значения по умолчанию для параметров окружения и связанных файлов.
const (
	defaultAppTimezone        = "Europe/Kiev"
	defaultLogLevel           = "info"
	defaultDBPath             = "data/postbot.db"
	defaultUploadsDir         = "data/uploads"
	defaultMediaRetentionDays = 7
	defaultPublisher          = PublisherBotAPI
	defaultSessionFile        = "data/session.json"
	defaultPeersFile          = "data/peers.bbolt"
	defaultSendRate           = 1.0
	defaultPoolSize           = 50
	defaultConnectTimeoutSec  = 60
	defaultRWTimeoutSec       = 600
	// Файловое логирование (LOG_FILE не имеет дефолта - должен быть явно указан для активации)
	defaultLogFileMaxSize    = 10
	defaultLogFileMaxBackups = 5
	defaultLogFileMaxAge     = 14
	defaultLogFileCompress   = true
)

var (
	cfgInstance *Config
	cfgDone     bool
)

// AppLocation — часовая зона приложения, в которой считаются все расписания.
// Заполняется в Load из APP_TIMEZONE.
var AppLocation *time.Location

// Load — точка входа для инициализации глобальной конфигурации всего приложения.
// При первом вызове:
//  1. читает .env,
//  2. формирует EnvConfig,
//  3. фиксирует результат в singleton cfgInstance.
//
// Повторный вызов запрещен (возвращается ошибка), чтобы избежать гонок
// конфигурации на старте.
func Load(envPath string) error {
	if cfgDone {
		return errors.New("config already loaded")
	}
	if cfgInstance == nil {
		cfgInstance = &Config{}
	}
	cfgInstance.mu.Lock()
	defer cfgInstance.mu.Unlock()
	newCfg, err := loadConfig(envPath)
	cfgInstance = newCfg
	cfgDone = true
	return err
}

// loadConfig выполняет фактическую загрузку/валидацию без установки глобального
// состояния. Удобно для тестов: можно собрать временный Config и проверить его.
func loadConfig(envPath string) (*Config, error) {
	if err := godotenv.Load(envPath); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	var warnings []string

	appTimezone := sanitizeTimezoneFlexible(os.Getenv("APP_TIMEZONE"), defaultAppTimezone, &warnings)
	logLevel := sanitizeLogLevel(os.Getenv("LOG_LEVEL"), defaultLogLevel, &warnings)

	dbPath := sanitizeFile("DB_PATH", os.Getenv("DB_PATH"), defaultDBPath, &warnings)
	uploadsDir := sanitizeFile("UPLOADS_DIR", os.Getenv("UPLOADS_DIR"), defaultUploadsDir, &warnings)
	retentionDays := parseIntDefault("MEDIA_RETENTION_DAYS", defaultMediaRetentionDays, greaterThanZero, &warnings)

	botToken := strings.TrimSpace(os.Getenv("BOT_TOKEN"))
	publisher := sanitizePublisher(os.Getenv("PUBLISHER"), &warnings)
	botAPITest := parseBoolDefault("BOT_API_TEST_DC", false, &warnings)
	sessionFile := sanitizeFile("SESSION_FILE", os.Getenv("SESSION_FILE"), defaultSessionFile, &warnings)
	peersFile := sanitizeFile("PEERS_FILE", os.Getenv("PEERS_FILE"), defaultPeersFile, &warnings)

	sendRate := parseFloatDefault("SEND_RATE", defaultSendRate, &warnings)
	poolSize := parseIntDefault("POOL_SIZE", defaultPoolSize, greaterThanZero, &warnings)
	connectTimeout := parseIntDefault("CONNECT_TIMEOUT_SECONDS", defaultConnectTimeoutSec, greaterThanZero, &warnings)
	rwTimeout := parseIntDefault("RW_TIMEOUT_SECONDS", defaultRWTimeoutSec, greaterThanZero, &warnings)

	logFile := strings.TrimSpace(os.Getenv("LOG_FILE"))
	logFileMaxSize := parseIntDefault("LOG_FILE_MAX_SIZE_MB", defaultLogFileMaxSize, greaterThanZero, &warnings)
	logFileMaxBackups := parseIntDefault("LOG_FILE_MAX_BACKUPS", defaultLogFileMaxBackups, nonNegative, &warnings)
	logFileMaxAge := parseIntDefault("LOG_FILE_MAX_AGE_DAYS", defaultLogFileMaxAge, nonNegative, &warnings)
	logFileCompress := parseBoolDefault("LOG_FILE_COMPRESS", defaultLogFileCompress, &warnings)

	// Учетные данные MTProto обязательны только при PUBLISHER=mtproto.
	var apiID int
	var apiHash, phone string
	if publisher == PublisherMTProto {
		var err error
		apiID, err = parseRequiredInt("TELEGRAM_API_ID")
		if err != nil {
			return nil, err
		}
		apiHash = strings.TrimSpace(os.Getenv("TELEGRAM_API_HASH"))
		if apiHash == "" {
			return nil, errors.New("env TELEGRAM_API_HASH must be set for PUBLISHER=mtproto")
		}
		phone = strings.TrimSpace(os.Getenv("PHONE"))
		if phone == "" {
			return nil, errors.New("env PHONE must be set for PUBLISHER=mtproto")
		}
	} else if botToken == "" {
		return nil, errors.New("env BOT_TOKEN must be set for PUBLISHER=botapi")
	}

	var err error
	AppLocation, err = timeutil.ParseLocation(appTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid APP_TIMEZONE %q: %w", appTimezone, err)
	}

	env := EnvConfig{
		AppTimezone:        appTimezone,
		LogLevel:           logLevel,
		DBPath:             dbPath,
		UploadsDir:         uploadsDir,
		MediaRetentionDays: retentionDays,
		Publisher:          publisher,
		BotToken:           botToken,
		BotAPITest:         botAPITest,
		APIID:              apiID,
		APIHash:            apiHash,
		PhoneNumber:        phone,
		SessionFile:        sessionFile,
		PeersFile:          peersFile,
		SendRate:           sendRate,
		PoolSize:           poolSize,
		ConnectTimeoutSec:  connectTimeout,
		RWTimeoutSec:       rwTimeout,
		// Файловое логирование
		LogFile:           logFile,
		LogFileMaxSize:    logFileMaxSize,
		LogFileMaxBackups: logFileMaxBackups,
		LogFileMaxAge:     logFileMaxAge,
		LogFileCompress:   logFileCompress,
	}

	cfg := &Config{
		Env:      env,
		warnings: warnings,
	}

	return cfg, nil
}

// Warnings возвращает накопленные предупреждения, возникшие при загрузке .env
// (например, когда подставлено значение по умолчанию). Возвращается копия.
func Warnings() []string {
	cfgInstance.mu.RLock()
	defer cfgInstance.mu.RUnlock()
	result := make([]string, len(cfgInstance.warnings))
	copy(result, cfgInstance.warnings)
	return result
}

// Env возвращает EnvConfig из глобального singleton. Это неизменяемый снимок
// на момент последней загрузки; для обновления надо перечитать конфиг целиком.
func Env() EnvConfig {
	return cfgInstance.Env
}

// parseRequiredInt читает обязательную целочисленную переменную окружения name.
// Если переменная не задана или не является корректным числом — возвращает ошибку.
// Используется для критичных параметров, без которых приложение не стартует.
func parseRequiredInt(name string) (int, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return 0, fmt.Errorf("env %s must be set", name)
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("env %s must be a valid integer: %w", name, err)
	}
	return v, nil
}

// parseIntDefault читает name как int. Если пусто/некорректно/не проходит
// дополнительную проверку validator — возвращает defaultVal и пишет предупреждение.
// Это позволяет не падать на несущественных настройках и иметь дефолты.
func parseIntDefault(name string, defaultVal int, validator func(int) bool, warnings *[]string) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		appendWarningf(warnings, "env %s is not set; using default %d", name, defaultVal)
		return defaultVal
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid integer; using default %d", name, value, defaultVal)
		return defaultVal
	}
	if validator != nil && !validator(v) {
		appendWarningf(warnings, "env %s value %d does not satisfy constraints; using default %d", name, v, defaultVal)
		return defaultVal
	}
	return v
}

// parseFloatDefault читает name как положительное число с плавающей точкой.
// Некорректные значения заменяются дефолтом с предупреждением.
func parseFloatDefault(name string, defaultVal float64, warnings *[]string) float64 {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		appendWarningf(warnings, "env %s is not set; using default %g", name, defaultVal)
		return defaultVal
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil || v <= 0 {
		appendWarningf(warnings, "env %s value %q is not a valid positive number; using default %g", name, value, defaultVal)
		return defaultVal
	}
	return v
}

// appendWarningf — служебная функция для накопления предупреждений о некорректных
// переменных окружения. Список затем доступен через Warnings().
func appendWarningf(warnings *[]string, format string, args ...any) {
	if warnings == nil {
		return
	}
	*warnings = append(*warnings, fmt.Sprintf(format, args...))
}

// greaterThanZero/ nonNegative — простые валидаторы чисел. Используются в
// parseIntDefault, чтобы навязать смысловые ограничения без падения приложения.
func greaterThanZero(v int) bool { return v > 0 }
func nonNegative(v int) bool     { return v >= 0 }

// parseBoolDefault читает name как bool. Если пусто/некорректно — возвращает defaultVal и пишет предупреждение.
func parseBoolDefault(name string, defaultVal bool, warnings *[]string) bool {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		appendWarningf(warnings, "env %s is not set; using default %v", name, defaultVal)
		return defaultVal
	}
	v, err := strconv.ParseBool(value)
	if err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid boolean; using default %v", name, value, defaultVal)
		return defaultVal
	}
	return v
}

// sanitizeLogLevel нормализует LOG_LEVEL и ограничивает значения набором
// {debug, info, warn, error}. Всё остальное превращается в defaultLogLevel.
func sanitizeLogLevel(level string, defaultVal string, warnings *[]string) string {
	lvl := strings.ToLower(strings.TrimSpace(level))
	if lvl == "" {
		appendWarningf(warnings, "env LOG_LEVEL is not set; using default %q", defaultVal)
		return defaultVal
	}
	switch lvl {
	case "debug", "info", "warn", "error":
		return lvl
	default:
		appendWarningf(warnings, "env LOG_LEVEL value %q is invalid; using default %q", level, defaultVal)
		return defaultVal
	}
}

// sanitizePublisher выбирает транспорт публикации (botapi|mtproto).
// Некорректные значения приводятся к defaultPublisher с записью предупреждения;
// ошибку об отсутствии обязательных учетных данных вернёт loadConfig.
func sanitizePublisher(publisher string, warnings *[]string) string {
	p := strings.ToLower(strings.TrimSpace(publisher))
	if p == "" {
		appendWarningf(warnings, "env PUBLISHER is not set; using default %q", defaultPublisher)
		return defaultPublisher
	}
	if p == PublisherBotAPI || p == PublisherMTProto {
		return p
	}
	appendWarningf(warnings, "env PUBLISHER value %q is invalid; using default %q", publisher, defaultPublisher)
	return defaultPublisher
}

// sanitizeFile возвращает валидное имя файла конфигурации. Если переменная не
// задана, подставляет fallback и пишет предупреждение.
func sanitizeFile(name, value, fallback string, warnings *[]string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		appendWarningf(warnings, "env %s is not set; using default %q", name, fallback)
		return fallback
	}
	return v
}

// sanitizeTimezoneFlexible проверяет, что значение — корректная IANA‑зона или UTC‑смещение.
// При неудаче возвращает значение по умолчанию и добавляет предупреждение.
func sanitizeTimezoneFlexible(value string, fallback string, warnings *[]string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		appendWarningf(warnings, "env APP_TIMEZONE is not set; using default %q", fallback)
		return fallback
	}
	if _, err := timeutil.ParseLocation(v); err != nil {
		appendWarningf(warnings, "timezone %q is invalid; using default %q", v, fallback)
		return fallback
	}
	return v
}
