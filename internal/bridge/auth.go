package bridge

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"time"

	"go.uber.org/zap"
)

// Credentials is the broker session data produced by one authentication
// round. It is invalidated on every reconnect.
type Credentials struct {
	UserID   string
	Token    string
	Account  string
	Password string
	URL      string
	Port     int
	Protocol string
}

type authClient struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

func newAuthClient(baseURL string, logger *zap.Logger) *authClient {
	return &authClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
		logger:  logger.With(zap.String("component", "auth")),
	}
}

type loginRequest struct {
	AppVersion string `json:"appVersion"`
	Email      string `json:"email"`
	OS         string `json:"os"`
	OSVersion  string `json:"osVersion"`
	Password   string `json:"password"`
	Scene      string `json:"scene"`
	UserType   string `json:"userType"`
}

type loginResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Token string `json:"token"`
		User  struct {
			UserID string `json:"userId"`
		} `json:"user"`
	} `json:"data"`
}

type certificationResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    struct {
		URL                 string      `json:"url"`
		Port                json.Number `json:"port"`
		Protocol            string      `json:"protocol"`
		CertificateAccount  string      `json:"certificateAccount"`
		CertificatePassword string      `json:"certificatePassword"`
	} `json:"data"`
}

// Authenticate runs the two-step login: credentials login for a bearer
// token, then the token exchange for broker certificate credentials.
// Failure at either step is fatal to bridge startup.
func (a *authClient) Authenticate(email, password string) (*Credentials, error) {
	body, err := json.Marshal(loginRequest{
		AppVersion: appVersion,
		Email:      email,
		OS:         runtime.GOOS,
		OSVersion:  runtime.Version(),
		Password:   base64.StdEncoding.EncodeToString([]byte(password)),
		Scene:      "IOT_APP",
		UserType:   "ECOSYSTEM",
	})
	if err != nil {
		return nil, err
	}

	resp, err := a.http.Post(a.baseURL+"/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("login request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("login rejected: status %d", resp.StatusCode)
	}
	var login loginResponse
	if err := json.Unmarshal(raw, &login); err != nil {
		return nil, fmt.Errorf("login decode: %w", err)
	}
	if login.Data.Token == "" || login.Data.User.UserID == "" {
		return nil, fmt.Errorf("login failed: %s", login.Message)
	}
	a.logger.Debug("login ok", zap.String("userId", login.Data.User.UserID))

	req, err := http.NewRequest(http.MethodGet,
		fmt.Sprintf("%s/iot-auth/app/certification?userId=%s", a.baseURL, login.Data.User.UserID), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+login.Data.Token)

	certResp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("certification request: %w", err)
	}
	defer certResp.Body.Close()
	raw, err = io.ReadAll(certResp.Body)
	if err != nil {
		return nil, err
	}
	if certResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("certification rejected: status %d", certResp.StatusCode)
	}
	var cert certificationResponse
	if err := json.Unmarshal(raw, &cert); err != nil {
		return nil, fmt.Errorf("certification decode: %w", err)
	}
	if cert.Data.URL == "" || cert.Data.CertificateAccount == "" {
		return nil, fmt.Errorf("certification failed: %s", cert.Message)
	}
	port, err := cert.Data.Port.Int64()
	if err != nil {
		return nil, fmt.Errorf("certification port: %w", err)
	}

	return &Credentials{
		UserID:   login.Data.User.UserID,
		Token:    login.Data.Token,
		Account:  cert.Data.CertificateAccount,
		Password: cert.Data.CertificatePassword,
		URL:      cert.Data.URL,
		Port:     int(port),
		Protocol: cert.Data.Protocol,
	}, nil
}

const appVersion = "4.1.2.02"
