package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
	log "github.com/sirupsen/logrus"
	"github.com/vaughan0/go-ini"

	"github.com/kafkatools/msk-iam-auth/mskiam"
)

type profiles map[string]map[string]string

type credentialsFile struct {
	file string
}

// newCredentialsFileFromEnv locates the shared AWS credentials file, honoring
// AWS_SHARED_CREDENTIALS_FILE. A missing file is not an error; the file is
// only one of the credential sources.
func newCredentialsFileFromEnv() (*credentialsFile, error) {
	file := os.Getenv("AWS_SHARED_CREDENTIALS_FILE")
	if file == "" {
		home, err := homedir.Dir()
		if err != nil {
			return nil, err
		}
		file = filepath.Join(home, "/.aws/credentials")
	}
	if _, err := os.Stat(file); os.IsNotExist(err) {
		file = ""
	}
	return &credentialsFile{file: file}, nil
}

func (c *credentialsFile) Parse() (profiles, error) {
	if c.file == "" {
		return nil, nil
	}

	log.Debugf("Parsing credentials file %s", c.file)
	f, err := ini.LoadFile(c.file)
	if err != nil {
		return nil, fmt.Errorf("Error parsing credentials file %q: %v", c.file, err)
	}

	p := profiles{}
	for sectionName, section := range f {
		p[sectionName] = section
	}
	return p, nil
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// resolveConfig builds the authentication configuration from, in order of
// precedence, command line flags, environment variables, and the profile
// section of the shared credentials file.
func resolveConfig() (mskiam.Config, error) {
	creds, err := newCredentialsFileFromEnv()
	if err != nil {
		return mskiam.Config{}, err
	}
	p, err := creds.Parse()
	if err != nil {
		return mskiam.Config{}, err
	}
	section := p[profile]

	cfg := mskiam.Config{
		AccessKeyID: firstOf(flagAccessKeyID,
			os.Getenv("AWS_ACCESS_KEY_ID"),
			section["aws_access_key_id"]),
		SecretAccessKey: firstOf(flagSecretAccessKey,
			os.Getenv("AWS_SECRET_ACCESS_KEY"),
			section["aws_secret_access_key"]),
		SecurityToken: firstOf(flagSecurityToken,
			os.Getenv("AWS_SESSION_TOKEN"),
			section["aws_session_token"]),
		Region: firstOf(flagRegion,
			os.Getenv("AWS_REGION"),
			os.Getenv("AWS_DEFAULT_REGION"),
			section["region"]),
		RoleARN:         flagRoleARN,
		RoleSessionName: flagRoleSessionName,
		ExternalID:      flagExternalID,
		DurationSeconds: flagDurationSeconds,
		STSEndpoint:     flagSTSEndpoint,
	}
	cfg.UseSTS = cfg.RoleARN != ""
	if cfg.UseSTS && cfg.RoleSessionName == "" {
		cfg.RoleSessionName = "msk-iam-auth-session"
	}
	if err := cfg.Validate(); err != nil {
		return mskiam.Config{}, err
	}
	return cfg, nil
}
