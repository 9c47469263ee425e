package main

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
)

const eulaFileName = "eula.txt"

// ensureEULA creates eula.txt with eula=true in dir when the file is missing.
// An existing file is never rewritten, even if it declines the EULA.
func ensureEULA(dir string) (bool, error) {
	path := filepath.Join(dir, eulaFileName)
	accepted, err := readEULA(path)
	if err == nil {
		if !accepted {
			log.Printf("%s does not accept the EULA; the server will refuse to start until eula=true is set", path)
		}
		return false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}

	content := "# Accepted by mc-bridge on first launch (https://aka.ms/MinecraftEULA)\neula=true\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	log.Printf("created %s accepting the Minecraft EULA", path)
	return true, nil
}

// readEULA reports the value of the eula key in a key=value properties file.
func readEULA(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if ok && strings.TrimSpace(key) == "eula" {
			return strings.EqualFold(strings.TrimSpace(value), "true"), nil
		}
	}
	return false, scanner.Err()
}
