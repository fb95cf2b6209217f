package token

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"
)

// File persists a credential as the JSON record written by the bootstrap
// login flow. Timestamp is unix seconds as a float.
type File struct {
	Path string
}

type fileRecord struct {
	AccessToken  string  `json:"access_token"`
	RefreshToken string  `json:"refresh_token"`
	ClientID     string  `json:"client_id,omitempty"`
	ClientSecret string  `json:"client_secret"`
	TokenType    string  `json:"token_type,omitempty"`
	Scope        string  `json:"scope,omitempty"`
	IDToken      string  `json:"id_token,omitempty"`
	ExpiresIn    int64   `json:"expires_in"`
	Timestamp    float64 `json:"timestamp,omitempty"`
}

// Load reads and parses the credential file.
func (f File) Load() (Credential, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return Credential{}, fmt.Errorf("read token file: %w", err)
	}
	var rec fileRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return Credential{}, fmt.Errorf("parse token file %s: %w", f.Path, err)
	}
	if rec.RefreshToken == "" {
		return Credential{}, fmt.Errorf("%s: %w", f.Path, ErrNoRefreshToken)
	}

	c := Credential{
		AccessToken:  rec.AccessToken,
		RefreshToken: rec.RefreshToken,
		ClientID:     rec.ClientID,
		ClientSecret: rec.ClientSecret,
		TokenType:    rec.TokenType,
		Scope:        rec.Scope,
		IDToken:      rec.IDToken,
		ExpiresIn:    time.Duration(rec.ExpiresIn) * time.Second,
	}
	if rec.Timestamp > 0 {
		sec, frac := math.Modf(rec.Timestamp)
		c.IssuedAt = time.Unix(int64(sec), int64(frac*1e9))
	}
	return c, nil
}

// Save writes the credential atomically with mode 0600.
func (f File) Save(c Credential) error {
	rec := fileRecord{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		TokenType:    c.TokenType,
		Scope:        c.Scope,
		IDToken:      c.IDToken,
		ExpiresIn:    int64(c.ExpiresIn / time.Second),
	}
	if !c.IssuedAt.IsZero() {
		rec.Timestamp = float64(c.IssuedAt.UnixNano()) / 1e9
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.Path), ".token-*")
	if err != nil {
		return fmt.Errorf("create temp token file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp token file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp token file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp token file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.Path); err != nil {
		return fmt.Errorf("replace token file: %w", err)
	}
	return nil
}
