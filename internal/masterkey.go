package internal

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrNoMasterKey is returned when neither the environment nor a key file
// provides the master secret.
var ErrNoMasterKey = errors.New("no master key configured (set KEYSTOREKIT_MASTER_KEY or --master-key-file)")

// LoadMasterKeyFromFile reads the first non-blank line of filename.
func LoadMasterKeyFromFile(filename string) ([]byte, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			return []byte(line), nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("master key file %s is empty", filename)
}

// ResolveMasterKey returns the master secret from cfg. An explicit MasterKey
// wins over MasterKeyFile.
func ResolveMasterKey(cfg Config) ([]byte, error) {
	if key := strings.TrimSpace(cfg.MasterKey); key != "" {
		return []byte(key), nil
	}
	if cfg.MasterKeyFile == "" {
		return nil, ErrNoMasterKey
	}
	key, err := LoadMasterKeyFromFile(cfg.MasterKeyFile)
	if err != nil {
		return nil, fmt.Errorf("loading master key from file: %w", err)
	}
	return key, nil
}
