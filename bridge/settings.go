// Copyright (c) terneo-ha contributors.
// Licensed under the MIT License.
package bridge

import (
	"math"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sosodev/duration"

	"github.com/IlyaSemenov/terneo-ha/internal/wallclock"
)

const (
	envPrefix = "TERNEO_MQTT_"

	defaultTCPPort       = 1883
	defaultTLSPort       = 8883
	defaultKeepAlive     = 60 * time.Second
	defaultSessionExpiry = time.Hour
	defaultTopicPrefix   = "terneo"
)

// Settings describe how the bridge reaches and identifies itself to the MQTT
// server. The zero value is not connectable; at minimum Hostname must be set.
type Settings struct {
	Hostname string
	TCPPort  int
	UseTLS   bool

	ClientID   string
	Username   string
	Password   []byte
	CleanStart bool

	// PasswordFile is read anew on every connection attempt and takes
	// precedence over Password.
	PasswordFile string

	// TLS credentials. CertFile and KeyFile must be given together;
	// KeyFilePassword names a file holding the password of an encrypted
	// KeyFile.
	CAFile          string
	CertFile        string
	KeyFile         string
	KeyFilePassword string

	KeepAlive     time.Duration
	SessionExpiry time.Duration

	// TopicPrefix roots every topic the bridge publishes or subscribes to.
	TopicPrefix string
}

// SettingsFromEnv builds settings from TERNEO_MQTT_* environment variables,
// for example TERNEO_MQTT_HOST_NAME, TERNEO_MQTT_TCP_PORT or
// TERNEO_MQTT_USE_TLS. Durations are ISO 8601 strings (PT30S). A missing
// hostname is not an error here: it means the bridge is not configured, which
// the caller decides how to treat.
func SettingsFromEnv() (*Settings, error) {
	settingsMap := make(map[string]string)
	for _, env := range os.Environ() {
		kv := strings.SplitN(env, "=", 2)
		if len(kv) != 2 || !strings.HasPrefix(kv[0], envPrefix) {
			continue
		}
		key := strings.ToLower(strings.ReplaceAll(
			strings.TrimPrefix(kv[0], envPrefix), "_", "",
		))
		settingsMap[key] = strings.TrimSpace(kv[1])
	}
	return ParseSettings(settingsMap)
}

// ParseSettings builds settings from a flat map with lowercase keys
// (hostname, tcpport, usetls, clientid, username, password, passwordfile,
// cafile, certfile, keyfile, keyfilepassword, keepalive, sessionexpiry,
// cleanstart, topicprefix).
func ParseSettings(settingsMap map[string]string) (*Settings, error) {
	s := &Settings{
		Hostname:        settingsMap["hostname"],
		ClientID:        settingsMap["clientid"],
		Username:        settingsMap["username"],
		PasswordFile:    settingsMap["passwordfile"],
		CAFile:          settingsMap["cafile"],
		CertFile:        settingsMap["certfile"],
		KeyFile:         settingsMap["keyfile"],
		KeyFilePassword: settingsMap["keyfilepassword"],
		TopicPrefix:     settingsMap["topicprefix"],
	}

	if password, ok := settingsMap["password"]; ok {
		s.Password = []byte(password)
	}

	if value, ok := settingsMap["tcpport"]; ok {
		port, err := strconv.ParseUint(value, 10, 16)
		if err != nil {
			return nil, &SettingsError{
				Setting: "TcpPort",
				message: "not a valid port number",
				wrapped: err,
			}
		}
		s.TCPPort = int(port)
	}

	for _, flag := range []struct {
		key     string
		setting string
		field   *bool
	}{
		{"usetls", "UseTLS", &s.UseTLS},
		{"cleanstart", "CleanStart", &s.CleanStart},
	} {
		value, ok := settingsMap[flag.key]
		if !ok {
			continue
		}
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return nil, &SettingsError{
				Setting: flag.setting,
				message: "not a valid boolean",
				wrapped: err,
			}
		}
		*flag.field = parsed
	}

	for _, dur := range []struct {
		key     string
		setting string
		field   *time.Duration
	}{
		{"keepalive", "KeepAlive", &s.KeepAlive},
		{"sessionexpiry", "SessionExpiry", &s.SessionExpiry},
	} {
		value, ok := settingsMap[dur.key]
		if !ok {
			continue
		}
		parsed, err := duration.Parse(value)
		if err != nil {
			return nil, &SettingsError{
				Setting: dur.setting,
				message: "not a valid ISO 8601 duration",
				wrapped: err,
			}
		}
		*dur.field = parsed.ToTimeDuration()
	}

	return s, s.validate()
}

func (s *Settings) validate() error {
	if s.KeepAlive.Seconds() > math.MaxUint16 {
		return &SettingsError{
			Setting: "KeepAlive",
			message: "cannot exceed 65535 seconds",
		}
	}
	if s.SessionExpiry.Seconds() > math.MaxUint32 {
		return &SettingsError{
			Setting: "SessionExpiry",
			message: "cannot exceed 4294967295 seconds",
		}
	}
	if (s.CertFile != "") != (s.KeyFile != "") {
		return &SettingsError{
			Setting: "CertFile/KeyFile",
			message: "certificate and key files must be provided together",
		}
	}
	if !s.UseTLS && s.hasTLS() {
		return &SettingsError{
			Setting: "UseTLS",
			message: "TLS files provided but UseTLS is disabled",
		}
	}
	return nil
}

func (s *Settings) hasTLS() bool {
	return s.CAFile != "" || s.CertFile != "" ||
		s.KeyFile != "" || s.KeyFilePassword != ""
}

// Configured reports whether the settings name a server to connect to.
func (s *Settings) Configured() bool {
	return s != nil && s.Hostname != ""
}

// Connection builds the connection provider the settings describe.
func (s *Settings) Connection() (ConnectionProvider, error) {
	if !s.Configured() {
		return nil, &SettingsError{
			Setting: "HostName",
			message: "must not be empty",
		}
	}

	port := s.TCPPort
	if port == 0 {
		if s.UseTLS {
			port = defaultTLSPort
		} else {
			port = defaultTCPPort
		}
	}

	if !s.UseTLS {
		return TCPConnection(s.Hostname, port), nil
	}

	var opts []TLSOption
	if s.CertFile != "" {
		if s.KeyFilePassword != "" {
			opts = append(opts, WithEncryptedX509(
				s.CertFile, s.KeyFile, s.KeyFilePassword,
			))
		} else {
			opts = append(opts, WithX509(s.CertFile, s.KeyFile))
		}
	}
	if s.CAFile != "" {
		opts = append(opts, WithCA(s.CAFile))
	}
	return TLSConnection(s.Hostname, port, opts...), nil
}

// effectiveClientID returns the configured client id or a random one. The
// random fallback trades session resumption for collision safety, which suits
// a bridge whose subscriptions are re-issued on every connect anyway.
func (s *Settings) effectiveClientID() string {
	if s.ClientID != "" {
		return s.ClientID
	}
	return randomClientID()
}

// effectivePassword reads the password file if one is configured, otherwise
// returns the inline password.
func (s *Settings) effectivePassword() ([]byte, error) {
	if s.PasswordFile == "" {
		return s.Password, nil
	}
	data, err := os.ReadFile(s.PasswordFile)
	if err != nil {
		return nil, &SettingsError{
			Setting: "PasswordFile",
			message: "cannot read password file",
			wrapped: err,
		}
	}
	return data, nil
}

func (s *Settings) effectiveKeepAlive() time.Duration {
	if s.KeepAlive > 0 {
		return s.KeepAlive
	}
	return defaultKeepAlive
}

func (s *Settings) effectiveSessionExpiry() time.Duration {
	if s.SessionExpiry > 0 {
		return s.SessionExpiry
	}
	return defaultSessionExpiry
}

func (s *Settings) effectiveTopicPrefix() string {
	if s.TopicPrefix != "" {
		return strings.TrimSuffix(s.TopicPrefix, "/")
	}
	return defaultTopicPrefix
}

// Client IDs must be 1..23 UTF-8 bytes of alphanumerics:
// https://docs.oasis-open.org/mqtt/mqtt/v5.0/os/mqtt-v5.0-os.html#_Toc3901059
const maxClientIDLength = 23

var validClientIDCharacters = []byte(
	"0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ",
)

func randomClientID() string {
	seed := wallclock.Instance.Now().UnixNano()
	// #nosec G404
	r := rand.New(rand.NewSource(seed))

	id := make([]byte, maxClientIDLength)
	for i := range id {
		id[i] = validClientIDCharacters[r.Intn(len(validClientIDCharacters))]
	}
	return string(id)
}
