package mint

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/cashumint/mintd/cashu/nuts/nut06"
)

// LightningBackend tags which Client implementation Config.Lightning
// selects.
type LightningBackend int

const (
	BackendMock LightningBackend = iota
	BackendLnd
	BackendCLN
)

type LndBackendConfig struct {
	GRPCHost     string
	CertPath     string
	MacaroonPath string
}

type CLNBackendConfig struct {
	RestURL string
	Rune    string
}

type LightningConfig struct {
	Backend LightningBackend
	Lnd     LndBackendConfig
	CLN     CLNBackendConfig
}

type ServerConfig struct {
	HostPort       string
	ApiPrefix      string
	ServeWalletDir string
}

type FeeConfig struct {
	Percent       float64
	MinFeeReserve uint64
}

// MintInfo is operator-facing metadata surfaced at GET /info and
// GET /v1/info.
type MintInfo struct {
	Name            string
	Description     string
	LongDescription string
	Contact         []nut06.ContactInfo
	Motd            string
	Version         string
}

// Config is the full set of mint configuration. PrivateKey is the
// keyset master secret; DerivationPath tags the currency-unit
// derivation.
type Config struct {
	PrivateKey     string
	DerivationPath string
	Server         ServerConfig
	DatabaseURL    string
	Lightning      LightningConfig
	Fee            FeeConfig
	Info           MintInfo
}

// GetConfigFromEnv reads Config from environment variables, failing
// fast on malformed numeric env vars.
func GetConfigFromEnv() (Config, error) {
	privateKey := os.Getenv("MINT_PRIVATE_KEY")
	if privateKey == "" {
		return Config{}, fmt.Errorf("MINT_PRIVATE_KEY cannot be empty")
	}

	derivationPath := os.Getenv("MINT_DERIVATION_PATH")
	if derivationPath == "" {
		derivationPath = "sat"
	}

	hostPort := os.Getenv("MINT_HOST_PORT")
	if hostPort == "" {
		hostPort = "0.0.0.0:3338"
	}

	dbURL := os.Getenv("MINT_DATABASE_URL")
	if dbURL == "" {
		return Config{}, fmt.Errorf("MINT_DATABASE_URL cannot be empty")
	}

	feePercent := 0.0
	if v, ok := os.LookupEnv("MINT_FEE_PERCENT"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid MINT_FEE_PERCENT: %v", err)
		}
		feePercent = f
	}

	minFeeReserve := uint64(0)
	if v, ok := os.LookupEnv("MINT_FEE_MIN_RESERVE"); ok {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid MINT_FEE_MIN_RESERVE: %v", err)
		}
		minFeeReserve = n
	}

	lightningCfg, err := lightningConfigFromEnv()
	if err != nil {
		return Config{}, err
	}

	contact := os.Getenv("MINT_CONTACT_INFO")
	var contactInfo []nut06.ContactInfo
	if contact != "" {
		var infoArr [][]string
		if err := json.Unmarshal([]byte(contact), &infoArr); err != nil {
			return Config{}, fmt.Errorf("error parsing MINT_CONTACT_INFO: %v", err)
		}
		for _, info := range infoArr {
			contactInfo = append(contactInfo, nut06.ContactInfo{Method: info[0], Info: info[1]})
		}
	}

	return Config{
		PrivateKey:     privateKey,
		DerivationPath: derivationPath,
		Server: ServerConfig{
			HostPort:       hostPort,
			ApiPrefix:      os.Getenv("MINT_API_PREFIX"),
			ServeWalletDir: os.Getenv("MINT_SERVE_WALLET_PATH"),
		},
		DatabaseURL: dbURL,
		Lightning:   lightningCfg,
		Fee: FeeConfig{
			Percent:       feePercent,
			MinFeeReserve: minFeeReserve,
		},
		Info: MintInfo{
			Name:            os.Getenv("MINT_NAME"),
			Description:     os.Getenv("MINT_DESCRIPTION"),
			LongDescription: os.Getenv("MINT_DESCRIPTION_LONG"),
			Contact:         contactInfo,
			Motd:            os.Getenv("MINT_MOTD"),
			Version:         "mintd/0.1.0",
		},
	}, nil
}

func lightningConfigFromEnv() (LightningConfig, error) {
	switch strings.ToLower(os.Getenv("MINT_LIGHTNING_BACKEND")) {
	case "lnd":
		host := os.Getenv("LND_GRPC_HOST")
		if host == "" {
			return LightningConfig{}, fmt.Errorf("LND_GRPC_HOST cannot be empty")
		}
		certPath := os.Getenv("LND_CERT_PATH")
		if certPath == "" {
			return LightningConfig{}, fmt.Errorf("LND_CERT_PATH cannot be empty")
		}
		macaroonPath := os.Getenv("LND_MACAROON_PATH")
		if macaroonPath == "" {
			return LightningConfig{}, fmt.Errorf("LND_MACAROON_PATH cannot be empty")
		}
		return LightningConfig{
			Backend: BackendLnd,
			Lnd: LndBackendConfig{
				GRPCHost:     host,
				CertPath:     certPath,
				MacaroonPath: macaroonPath,
			},
		}, nil
	case "cln":
		restURL := os.Getenv("CLN_REST_URL")
		if restURL == "" {
			return LightningConfig{}, fmt.Errorf("CLN_REST_URL cannot be empty")
		}
		return LightningConfig{
			Backend: BackendCLN,
			CLN: CLNBackendConfig{
				RestURL: restURL,
				Rune:    os.Getenv("CLN_RUNE"),
			},
		}, nil
	case "", "mock":
		return LightningConfig{Backend: BackendMock}, nil
	default:
		return LightningConfig{}, fmt.Errorf("invalid MINT_LIGHTNING_BACKEND: %v", os.Getenv("MINT_LIGHTNING_BACKEND"))
	}
}
