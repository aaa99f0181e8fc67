package params

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/Gaialynx/toadefi/pkg/crypto"
)

// Exchange holds the Vertex endpoint identity and credentials.
type Exchange struct {
	SenderAddress    string // 20-byte hex account address
	Subaccount       string // subaccount name, at most 12 bytes
	PrivateKey       string // hex secp256k1 private key
	ChainID          uint64
	EndpointContract string // fixed verifying contract for non-order payloads
	SubscribeURL     string
	GatewayURL       string
}

// Connector holds process-level settings.
type Connector struct {
	ListenAddr     string
	JournalPath    string
	ReconnectPoll  time.Duration
	NonceSkewMS    uint64
	NonceFixedLow  int64 // -1 = random low 20 bits
	CacheBookAddrs bool
}

type Config struct {
	Exchange  Exchange
	Connector Connector
}

func Default() Config {
	return Config{
		Exchange: Exchange{
			Subaccount: "default",
		},
		Connector: Connector{
			ListenAddr:    ":8080",
			JournalPath:   "data/journal",
			ReconnectPoll: 5 * time.Second,
			NonceSkewMS:   50,
			NonceFixedLow: -1,
		},
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Credentials and endpoints are required; everything
// else falls back to defaults.
func LoadFromEnv(envPath string) (Config, error) {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	var err error
	if cfg.Exchange.SenderAddress, err = requireEnv("SENDER_ADDRESS"); err != nil {
		return cfg, err
	}
	if _, err := crypto.ParseAddressHex(cfg.Exchange.SenderAddress); err != nil {
		return cfg, fmt.Errorf("SENDER_ADDRESS: %w", err)
	}
	if cfg.Exchange.PrivateKey, err = requireEnv("PRIVATE_KEY"); err != nil {
		return cfg, err
	}
	if cfg.Exchange.EndpointContract, err = requireEnv("ARBITRUM_TESTNET_CONTRACT"); err != nil {
		return cfg, err
	}
	if cfg.Exchange.SubscribeURL, err = requireEnv("ARBITRUM_VERTEX_TESTNET_SUBSCRIBE_URL"); err != nil {
		return cfg, err
	}
	if cfg.Exchange.GatewayURL, err = requireEnv("ARBITRUM_VERTEX_TESTNET_GATEWAY_URL"); err != nil {
		return cfg, err
	}

	chainID, err := requireEnv("ARBITRUM_TESTNET_CHAIN_ID")
	if err != nil {
		return cfg, err
	}
	if cfg.Exchange.ChainID, err = strconv.ParseUint(chainID, 10, 64); err != nil {
		return cfg, fmt.Errorf("ARBITRUM_TESTNET_CHAIN_ID must be an integer: %w", err)
	}

	if sub := os.Getenv("SUBACCOUNT_NAME"); sub != "" {
		cfg.Exchange.Subaccount = sub
	}
	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		cfg.Connector.ListenAddr = addr
	}
	if path := os.Getenv("JOURNAL_PATH"); path != "" {
		cfg.Connector.JournalPath = path
	}
	if poll := os.Getenv("RECONNECT_POLL_MS"); poll != "" {
		if ms, err := strconv.Atoi(poll); err == nil {
			cfg.Connector.ReconnectPoll = time.Duration(ms) * time.Millisecond
		}
	}
	if skew := os.Getenv("NONCE_SKEW_MS"); skew != "" {
		if ms, err := strconv.ParseUint(skew, 10, 64); err == nil {
			cfg.Connector.NonceSkewMS = ms
		}
	}
	if low := os.Getenv("NONCE_FIXED_LOW"); low != "" {
		if v, err := strconv.ParseInt(low, 10, 64); err == nil {
			cfg.Connector.NonceFixedLow = v
		}
	}
	if cache := os.Getenv("CACHE_BOOK_ADDRS"); cache != "" {
		cfg.Connector.CacheBookAddrs = cache == "true"
	}

	return cfg, nil
}

func requireEnv(key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("%s not set", key)
	}
	return value, nil
}
