package authstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/clinprecision/ctms-forms/internal/apiclient"
	sm "github.com/keeper-security/secrets-manager-go/core"
	"go.uber.org/zap"
)

// notationPrefix is the optional scheme of Keeper notation.
const notationPrefix = "keeper://"

// secretsClient is the part of the Keeper SDK the token source needs.
type secretsClient interface {
	GetNotation(notation string) ([]interface{}, error)
}

// Ensure KeeperTokenSource implements apiclient.TokenStore
var _ apiclient.TokenStore = (*KeeperTokenSource)(nil)

// KeeperTokenSource reads the API token from a Keeper Secrets Manager
// record. The token is fetched once and reused until Clear.
type KeeperTokenSource struct {
	client   secretsClient
	notation string
	logger   *zap.Logger

	mu    sync.Mutex
	token string
}

// NewKeeperTokenSource builds a source from a Secrets Manager device config
// file (the JSON written by `ksm init`) and a notation such as
// keeper://UID/field/password.
func NewKeeperTokenSource(configPath, notation string, logger *zap.Logger) (*KeeperTokenSource, error) {
	if _, err := ParseNotation(notation); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(configPath) // #nosec G304 - operator supplied config path
	if err != nil {
		return nil, fmt.Errorf("failed to read Keeper config: %w", err)
	}
	var config map[string]string
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse Keeper config: %w", err)
	}
	for _, field := range []string{"clientId", "privateKey", "appKey"} {
		if config[field] == "" {
			return nil, fmt.Errorf("missing %s in Keeper config", field)
		}
	}

	client := sm.NewSecretsManager(&sm.ClientOptions{
		Config: sm.NewMemoryKeyValueStorage(config),
	})
	if client == nil {
		return nil, errors.New("failed to create secrets manager client")
	}
	return newKeeperTokenSource(client, notation, logger), nil
}

func newKeeperTokenSource(client secretsClient, notation string, logger *zap.Logger) *KeeperTokenSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KeeperTokenSource{client: client, notation: notation, logger: logger}
}

// Token returns the vault value, fetching it on first use.
func (k *KeeperTokenSource) Token(context.Context) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.token != "" {
		return k.token, nil
	}

	results, err := k.client.GetNotation(strings.TrimPrefix(k.notation, notationPrefix))
	if err != nil {
		return "", fmt.Errorf("failed to read token from Keeper: %w", err)
	}
	token := firstString(results)
	if token == "" {
		return "", fmt.Errorf("%w: Keeper notation %s resolved to no value", ErrNoToken, k.notation)
	}

	k.logger.Debug("Loaded API token from Keeper", zap.String("notation", k.notation))
	k.token = token
	return token, nil
}

// Clear forgets the cached token so the next request re-reads the vault.
func (k *KeeperTokenSource) Clear(context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.token = ""
	return nil
}

// firstString digs the first string out of a notation result, which may
// nest values in slices.
func firstString(values []interface{}) string {
	for _, v := range values {
		switch t := v.(type) {
		case string:
			if t != "" {
				return t
			}
		case []interface{}:
			if s := firstString(t); s != "" {
				return s
			}
		}
	}
	return ""
}
