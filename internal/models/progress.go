package models

// Transfer describes the file the engine is currently copying.
// Dest is empty while only the file name is known.
type Transfer struct {
	Source     string
	Dest       string
	BytesDone  uint64
	BytesTotal uint64
}

// Progress is a snapshot of a running backup.
type Progress struct {
	Fraction   float64 // 0.0 - 1.0
	BytesDone  uint64
	FilesDone  int64 // may be -1 before the first file completes
	FilesTotal int64
	Current    *Transfer // nil until a file is reported
}

// Clone returns a deep copy safe to hand out to readers.
func (p Progress) Clone() Progress {
	if p.Current != nil {
		cur := *p.Current
		p.Current = &cur
	}
	return p
}

// StatusReport is the serialized shape of a Progress.
type StatusReport struct {
	Percent   float64        `json:"percent"`
	BytesDone uint64         `json:"bytesDone"`
	Files     FileCounts     `json:"files"`
	Current   *CurrentReport `json:"current,omitempty"`
}

// FileCounts holds done/total file counters.
type FileCounts struct {
	Done  int64 `json:"done"`
	Total int64 `json:"total"`
}

// CurrentReport describes the in-flight file. Dest and Bytes are omitted until known.
type CurrentReport struct {
	Source string      `json:"source"`
	Dest   string      `json:"dest,omitempty"`
	Bytes  *ByteCounts `json:"bytes,omitempty"`
}

// ByteCounts holds done/total byte counters.
type ByteCounts struct {
	Done  uint64 `json:"done"`
	Total uint64 `json:"total"`
}

// Report converts the snapshot to its serialized shape.
func (p Progress) Report() StatusReport {
	r := StatusReport{
		Percent:   p.Fraction * 100.0,
		BytesDone: p.BytesDone,
		Files: FileCounts{
			Done:  p.FilesDone,
			Total: p.FilesTotal,
		},
	}

	if p.Current != nil && p.Current.Source != "" {
		r.Current = &CurrentReport{Source: p.Current.Source}
		if p.Current.Dest != "" {
			r.Current.Dest = p.Current.Dest
			r.Current.Bytes = &ByteCounts{
				Done:  p.Current.BytesDone,
				Total: p.Current.BytesTotal,
			}
		}
	}

	return r
}
