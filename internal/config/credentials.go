package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// DefaultCredentialsFile is read from the working directory unless overridden
const DefaultCredentialsFile = "aws.cfg"

// credentialsSection is the INI section holding the keys
const credentialsSection = "default"

// Credential keys expected in the credentials file
const (
	KeyAccessKeyID     = "aws_access_key_id"
	KeySecretAccessKey = "aws_secret_access_key"
	KeyRegion          = "region"
)

// ErrMissingCredential is returned when a required key is absent or empty
var ErrMissingCredential = errors.New("missing credential")

var (
	sectionRe  = regexp.MustCompile(`^\[([^\]]+)\]$`)
	keyValueRe = regexp.MustCompile(`^([^=:\s]+)\s*[=:]\s*(.*)$`)
)

// Credentials holds the static AWS credentials read from the credentials file
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
}

// LoadCredentials reads the [default] section of an INI credentials file.
// Every missing key is reported in the returned error.
func LoadCredentials(path string) (*Credentials, error) {
	sections, err := parseINIFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}

	values := sections[credentialsSection]
	var missing []string
	for _, key := range []string{KeyAccessKeyID, KeySecretAccessKey, KeyRegion} {
		if values[key] == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s in [%s] of %s",
			ErrMissingCredential, strings.Join(missing, ", "), credentialsSection, path)
	}

	return &Credentials{
		AccessKeyID:     values[KeyAccessKeyID],
		SecretAccessKey: values[KeySecretAccessKey],
		Region:          values[KeyRegion],
	}, nil
}

// parseINIFile returns key/value pairs grouped by section name
func parseINIFile(path string) (map[string]map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	sections := make(map[string]map[string]string)
	var current map[string]string

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}

		if matches := sectionRe.FindStringSubmatch(line); len(matches) == 2 {
			name := strings.TrimSpace(matches[1])
			if sections[name] == nil {
				sections[name] = make(map[string]string)
			}
			current = sections[name]
			continue
		}

		// Keys outside any section are ignored
		if current == nil {
			continue
		}

		if matches := keyValueRe.FindStringSubmatch(line); len(matches) == 3 {
			current[strings.ToLower(matches[1])] = strings.TrimSpace(matches[2])
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return sections, nil
}
