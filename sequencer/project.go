package sequencer

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const saveTimeFormat = "2006-01-02_15-04-05"

// SaveInfo represents a saved project file (for listing)
type SaveInfo struct {
	Filename  string
	Name      string // parsed from filename (empty if unnamed)
	Timestamp time.Time
}

// ProjectsDir returns the projects directory path
func ProjectsDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "go-stepseq", "projects"), nil
}

// ProjectDir returns the path to a specific project
func ProjectDir(projectName string) (string, error) {
	base, err := ProjectsDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, sanitizeFilename(projectName)), nil
}

// ListProjects returns all project folder names
func ListProjects() ([]string, error) {
	dir, err := ProjectsDir()
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}

	projects := []string{}
	for _, entry := range entries {
		if entry.IsDir() {
			projects = append(projects, entry.Name())
		}
	}

	sort.Strings(projects)
	return projects, nil
}

// ListSaves returns timestamped saves for a project, newest first
func ListSaves(projectName string) ([]SaveInfo, error) {
	dir, err := ProjectDir(projectName)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []SaveInfo{}, nil
		}
		return nil, err
	}

	saves := []SaveInfo{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".json") {
			continue
		}

		// 2024-01-15_14-30-00.json or 2024-01-15_14-30-00_name.json
		baseName := strings.TrimSuffix(name, ".json")
		if len(baseName) < len(saveTimeFormat) {
			continue
		}
		ts, err := time.Parse(saveTimeFormat, baseName[:len(saveTimeFormat)])
		if err != nil {
			continue
		}

		saveName := ""
		if rest := baseName[len(saveTimeFormat):]; len(rest) > 1 && rest[0] == '_' {
			saveName = rest[1:]
		}

		saves = append(saves, SaveInfo{
			Filename:  name,
			Name:      saveName,
			Timestamp: ts,
		})
	}

	sort.Slice(saves, func(i, j int) bool {
		if saves[i].Timestamp.Equal(saves[j].Timestamp) {
			return saves[i].Filename > saves[j].Filename
		}
		return saves[i].Timestamp.After(saves[j].Timestamp)
	})

	return saves, nil
}

// SaveProject saves the session into the project folder under a timestamped
// file name and returns that name.
func SaveProject(e *Engine, projectName, label string) (string, error) {
	if projectName == "" {
		projectName = "untitled"
	}

	dir, err := ProjectDir(projectName)
	if err != nil {
		return "", err
	}

	filename := time.Now().Format(saveTimeFormat)
	if label = sanitizeFilename(label); label != "" {
		filename += "_" + label
	}
	filename += ".json"
	if err := e.Save(filepath.Join(dir, filename)); err != nil {
		return "", err
	}
	return filename, nil
}

// LoadProject loads a specific save (or most recent if filename empty)
func LoadProject(e *Engine, projectName, filename string) error {
	dir, err := ProjectDir(projectName)
	if err != nil {
		return err
	}

	if filename == "" {
		saves, err := ListSaves(projectName)
		if err != nil {
			return err
		}
		if len(saves) == 0 {
			return fmt.Errorf("no saves found in project %s", projectName)
		}
		filename = saves[0].Filename
	}

	return e.Load(filepath.Join(dir, filepath.Base(filename)))
}

// CreateProject creates a new empty project folder
func CreateProject(name string) error {
	dir, err := ProjectDir(name)
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

// DeleteSave deletes a specific save file
func DeleteSave(projectName, filename string) error {
	dir, err := ProjectDir(projectName)
	if err != nil {
		return err
	}
	return os.Remove(filepath.Join(dir, filepath.Base(filename)))
}

// RenameSave changes the name part of a save file and keeps its timestamp
func RenameSave(projectName, oldFilename, newName string) (string, error) {
	dir, err := ProjectDir(projectName)
	if err != nil {
		return "", err
	}

	baseName := strings.TrimSuffix(filepath.Base(oldFilename), ".json")
	if len(baseName) < len(saveTimeFormat) {
		return "", fmt.Errorf("invalid save filename %q", oldFilename)
	}
	newFilename := baseName[:len(saveTimeFormat)]
	if newName = sanitizeFilename(newName); newName != "" {
		newFilename += "_" + newName
	}
	newFilename += ".json"

	if err := os.Rename(filepath.Join(dir, filepath.Base(oldFilename)), filepath.Join(dir, newFilename)); err != nil {
		return "", err
	}
	return newFilename, nil
}

var filenameReplacer = strings.NewReplacer(
	" ", "-", "/", "-", "\\", "-", ":", "-",
	"*", "", "?", "", "\"", "", "<", "", ">", "", "|", "",
)

// sanitizeFilename removes/replaces characters that are problematic in
// filenames. Runs of dashes collapse to one.
func sanitizeFilename(name string) string {
	name = filenameReplacer.Replace(name)
	for strings.Contains(name, "--") {
		name = strings.ReplaceAll(name, "--", "-")
	}
	return strings.Trim(name, "-")
}

// DeleteProject deletes entire project folder
func DeleteProject(name string) error {
	dir, err := ProjectDir(name)
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

// RenameProject renames a project folder
func RenameProject(oldName, newName string) error {
	oldDir, err := ProjectDir(oldName)
	if err != nil {
		return err
	}
	newDir, err := ProjectDir(newName)
	if err != nil {
		return err
	}
	return os.Rename(oldDir, newDir)
}
