package media

import "testing"

func TestValidateFilename(t *testing.T) {
	valid := []string{"clip.mp4", "step one.mov", "a.webm", "CAP.M4V"}
	for _, name := range valid {
		if err := ValidateFilename(name); err != nil {
			t.Errorf("%q should be valid: %v", name, err)
		}
	}

	invalid := []string{
		"",
		"../../etc/passwd.mp4",
		"dir/clip.mp4",
		`dir\clip.mp4`,
		"clip.exe",
		"clip",
		"clip.mp4.sh",
	}
	for _, name := range invalid {
		if err := ValidateFilename(name); err == nil {
			t.Errorf("%q should be rejected", name)
		}
	}
}
