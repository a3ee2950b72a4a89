package bridge

import (
	"crypto/tls"
	"errors"
	"fmt"
	"math/rand"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// transportCandidate is one connection variant to probe. The vendor broker
// fleet is inconsistent about schemes and certificates, so several
// TLS/plain variants are tried in order until one accepts a connection.
type transportCandidate struct {
	label  string
	broker string
	tls    *tls.Config
}

func transportCandidates(creds *Credentials) []transportCandidate {
	scheme := creds.Protocol
	if scheme == "" {
		scheme = "tcp"
	}
	secure := scheme == "mqtts" || scheme == "ssl" || scheme == "tls"

	hostPort := fmt.Sprintf("%s:%d", creds.URL, creds.Port)
	candidates := []transportCandidate{
		{label: "explicit-protocol", broker: fmt.Sprintf("%s://%s", scheme, hostPort)},
		{label: "embedded-protocol", broker: hostPort},
		{label: "plain", broker: "tcp://" + hostPort},
	}
	if secure {
		candidates = append(candidates,
			transportCandidate{
				label:  "tls-noverify",
				broker: "ssl://" + hostPort,
				tls:    &tls.Config{InsecureSkipVerify: true},
			},
			transportCandidate{
				label:  "tls-relaxed",
				broker: "ssl://" + hostPort,
				tls: &tls.Config{
					InsecureSkipVerify: true,
					MinVersion:         tls.VersionTLS10,
				},
			})
	}
	return candidates
}

func clientOptions(creds *Credentials, cand transportCandidate, clientID string) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cand.broker)
	opts.SetClientID(clientID)
	opts.SetUsername(creds.Account)
	opts.SetPassword(creds.Password)
	opts.SetAutoReconnect(false)
	opts.SetCleanSession(true)
	opts.SetKeepAlive(30 * time.Second)
	if cand.tls != nil {
		opts.SetTLSConfig(cand.tls)
	}
	return opts
}

// negotiateTransport probes every candidate with a short-lived connection
// attempt and returns the first one that accepts. All candidates exhausted
// is fatal to bridge startup.
func negotiateTransport(creds *Credentials, clientID string, probeTimeout time.Duration, logger *zap.Logger) (*transportCandidate, error) {
	candidates := transportCandidates(creds)
	for i := range candidates {
		cand := candidates[i]
		opts := clientOptions(creds, cand, fmt.Sprintf("%s_probe_%d", clientID, rand.Intn(1000)))
		opts.SetConnectTimeout(probeTimeout)

		probe := mqtt.NewClient(opts)
		token := probe.Connect()
		if ok := token.WaitTimeout(probeTimeout); ok && token.Error() == nil {
			probe.Disconnect(250)
			logger.Info("transport negotiated",
				zap.String("variant", cand.label), zap.String("broker", cand.broker))
			return &cand, nil
		}
		var cause error
		if token.Error() != nil {
			cause = token.Error()
		} else {
			cause = errors.New("probe timeout")
		}
		logger.Debug("transport candidate failed",
			zap.String("variant", cand.label), zap.Error(cause))
		probe.Disconnect(0)
	}
	return nil, errors.New("bridge: all transport candidates exhausted")
}

func newClientID(userID string) string {
	return fmt.Sprintf("ANDROID_%s_%04d", userID, rand.Intn(10000))
}
