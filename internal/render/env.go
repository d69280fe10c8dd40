package render

import (
	"fmt"

	"github.com/joho/godotenv"
)

// EnvFile renders the compose interpolation file recording the test domain.
func EnvFile(domain string) ([]byte, error) {
	content, err := godotenv.Marshal(map[string]string{"TEST_DOMAIN": domain})
	if err != nil {
		return nil, fmt.Errorf("marshal env file: %w", err)
	}
	return []byte(content + "\n"), nil
}
