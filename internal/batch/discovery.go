package batch

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cozy-creator/captioner/internal/utils/imageutil"
	"go.uber.org/zap"
)

// DiscoverImages lists the supported image files directly inside folder,
// sorted by name.
func DiscoverImages(folder string) ([]string, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, fmt.Errorf("failed to read image folder %s: %w", folder, err)
	}

	var images []string
	for _, entry := range entries {
		if entry.IsDir() || !imageutil.IsSupportedExtension(entry.Name()) {
			continue
		}
		images = append(images, filepath.Join(folder, entry.Name()))
	}

	sort.Strings(images)
	return images, nil
}

// LoadQuestions returns the trimmed, non-empty lines of the questions file.
// A missing file is only a warning.
func LoadQuestions(path string, logger *zap.Logger) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Warn("text questions file not found", zap.String("path", path))
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open questions file: %w", err)
	}
	defer file.Close()

	var questions []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			questions = append(questions, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read questions file: %w", err)
	}

	return questions, nil
}
