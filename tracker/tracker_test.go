package tracker

import (
	"archive/zip"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNoteNames(t *testing.T) {
	tests := []struct {
		name  string
		pitch int
	}{
		{"C-4", 48},
		{"F#2", 30},
		{"B-9", 119},
		{"C-1", 12},
		{"OFF", Off},
	}
	for _, tt := range tests {
		if got := NoteName(tt.pitch); got != tt.name {
			t.Errorf("NoteName(%d) = %q, want %q", tt.pitch, got, tt.name)
		}
		got, err := ParseNote(tt.name)
		if err != nil || got != tt.pitch {
			t.Errorf("ParseNote(%q) = %d, %v, want %d", tt.name, got, err, tt.pitch)
		}
	}
	if got := NoteName(5); got != "---" {
		t.Errorf("NoteName(5) = %q", got)
	}
	for _, bad := range []string{"", "H-4", "C-x", "C#"} {
		if _, err := ParseNote(bad); err == nil {
			t.Errorf("ParseNote(%q) accepted", bad)
		}
	}
}

func TestPhraseDurations(t *testing.T) {
	ph := NewPhrase("lead", 16, 4, map[int][]*Cell{
		0:  {{Pitch: 48, Velocity: 100}, {Pitch: 55, Velocity: 90}},
		4:  {{Pitch: Off}},
		6:  {{Pitch: 50, Velocity: 70}},
		20: {{Pitch: 60, Velocity: 1}},
	})
	if len(ph.Rows) != 16 || len(ph.Rows[0]) != 2 || len(ph.Rows[4]) != 2 {
		t.Fatalf("rows = %d×%d", len(ph.Rows), len(ph.Rows[0]))
	}

	want := []Note{
		{Line: 0, Pitch: 48, Velocity: 100, Duration: 4},
		{Line: 0, Pitch: 55, Velocity: 90, Duration: 16},
		{Line: 6, Pitch: 50, Velocity: 70, Duration: 10},
	}
	got := ph.Notes()
	if len(got) != len(want) {
		t.Fatalf("notes = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("note %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestGroups(t *testing.T) {
	p := &Project{Groups: []*Group{
		{Name: "bass", Phrases: []*Phrase{{}, {}}},
		{Name: "*keys", Phrases: []*Phrase{{}}},
		{Name: "drums", Phrases: []*Phrase{{}}},
	}}
	if got := p.Sequences(); got != 3 {
		t.Errorf("Sequences = %d, want 3", got)
	}
	if !p.HasTransposable() {
		t.Error("HasTransposable = false")
	}
	p.Groups = p.Groups[:1]
	if p.HasTransposable() {
		t.Error("HasTransposable = true without a '*' group")
	}
}

const songXML = `<?xml version="1.0" encoding="UTF-8"?>
<RenoiseSong doc_version="63">
  <GlobalSongData>
    <BeatsPerMin>132.5</BeatsPerMin>
    <LinesPerBeat>4</LinesPerBeat>
    <SongName>demo</SongName>
    <Artist>someone</Artist>
  </GlobalSongData>
  <Instruments>
    <Instrument>
      <Name>bass</Name>
      <PhraseGenerator>
        <Phrases>
          <Phrase>
            <Name>intro</Name>
            <LinesPerBeat>4</LinesPerBeat>
            <NumberOfLines>8</NumberOfLines>
            <Lines>
              <Line index="0">
                <NoteColumns>
                  <NoteColumn><Note>C-3</Note><Volume>40</Volume></NoteColumn>
                  <NoteColumn/>
                </NoteColumns>
              </Line>
              <Line index="2">
                <NoteColumns>
                  <NoteColumn><Note>---</Note></NoteColumn>
                  <NoteColumn><Note>G-3</Note></NoteColumn>
                </NoteColumns>
              </Line>
              <Line index="4">
                <NoteColumns>
                  <NoteColumn><Note>OFF</Note></NoteColumn>
                </NoteColumns>
              </Line>
            </Lines>
          </Phrase>
        </Phrases>
      </PhraseGenerator>
    </Instrument>
    <Instrument>
      <Name></Name>
    </Instrument>
    <Instrument>
      <Name>*pad</Name>
    </Instrument>
  </Instruments>
</RenoiseSong>`

func TestParse(t *testing.T) {
	p, err := Parse(strings.NewReader(songXML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.Title != "demo" || p.Artist != "someone" || p.Tempo != 132.5 || p.LinesPerBeat != 4 {
		t.Errorf("song = %q %q %v %d", p.Title, p.Artist, p.Tempo, p.LinesPerBeat)
	}
	if len(p.Groups) != 2 || p.Groups[0].Name != "bass" || !p.Groups[1].Transposable() {
		t.Fatalf("groups = %+v", p.Groups)
	}
	ph := p.Groups[0].Phrases[0]
	if ph.Name != "intro" || ph.Lines != 8 || ph.LinesPerBeat != 4 {
		t.Errorf("phrase = %q %d %d", ph.Name, ph.Lines, ph.LinesPerBeat)
	}
	want := []Note{
		{Line: 0, Pitch: 36, Velocity: 0x40, Duration: 4},
		{Line: 2, Pitch: 43, Velocity: DefaultVelocity, Duration: 6},
	}
	got := ph.Notes()
	if len(got) != len(want) {
		t.Fatalf("notes = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("note %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not xml", "{}"},
		{"wrong root", "<Song/>"},
		{"no lines", `<RenoiseSong><Instruments><Instrument><Name>a</Name><PhraseGenerator><Phrases>
			<Phrase><NumberOfLines>0</NumberOfLines></Phrase></Phrases></PhraseGenerator></Instrument></Instruments></RenoiseSong>`},
		{"bad note", `<RenoiseSong><Instruments><Instrument><Name>a</Name><PhraseGenerator><Phrases>
			<Phrase><NumberOfLines>4</NumberOfLines><Lines><Line index="0"><NoteColumns>
			<NoteColumn><Note>Q-4</Note></NoteColumn></NoteColumns></Line></Lines></Phrase>
			</Phrases></PhraseGenerator></Instrument></Instruments></RenoiseSong>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(strings.NewReader(tt.doc)); err == nil {
				t.Error("Parse accepted")
			}
		})
	}
}

func writeArchive(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	for name, body := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	song := filepath.Join(dir, "live set.xrns")
	writeArchive(t, song, map[string]string{
		"Song.xml":         strings.Replace(songXML, "<SongName>demo</SongName>", "<SongName></SongName>", 1),
		"SampleData/a.wav": "",
	})
	p, err := Open(song)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if p.Title != "live set" {
		t.Errorf("Title = %q, want the file name", p.Title)
	}
	if len(p.Groups) != 2 {
		t.Errorf("groups = %d", len(p.Groups))
	}

	empty := filepath.Join(dir, "empty.xrns")
	writeArchive(t, empty, map[string]string{"other.xml": "<x/>"})
	if _, err := Open(empty); !errors.Is(err, ErrNoSong) {
		t.Errorf("Open without Song.xml = %v", err)
	}
	if _, err := Open(filepath.Join(dir, "missing.xrns")); err == nil {
		t.Error("Open of a missing file succeeded")
	}
}
