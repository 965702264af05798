package capture

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"wpan-sniffer/internal/mac"
)

// Record is one decoded frame travelling through the pipeline.
type Record struct {
	Num         uint64
	Time        time.Time
	Data        []byte
	ReportedLen int
	Result      *mac.Result
}

// recordJSON is the wire shape sinks publish.
type recordJSON struct {
	Num      uint64             `json:"num"`
	Time     time.Time          `json:"time"`
	Type     string             `json:"type"`
	Seq      *uint8             `json:"seq,omitempty"`
	SrcPAN   string             `json:"src_pan"`
	Src      string             `json:"src,omitempty"`
	DstPAN   string             `json:"dst_pan,omitempty"`
	Dst      string             `json:"dst,omitempty"`
	FCS      string             `json:"fcs"`
	Security string             `json:"security,omitempty"`
	Payload  string             `json:"payload,omitempty"`
	Beacon   *mac.BeaconFields  `json:"beacon,omitempty"`
	Command  *mac.CommandFields `json:"command,omitempty"`
	Warnings []string           `json:"warnings,omitempty"`
	Error    string             `json:"error,omitempty"`
}

func (r *Record) MarshalJSON() ([]byte, error) {
	res := r.Result
	f := res.Frame
	out := recordJSON{
		Num:      r.Num,
		Time:     r.Time,
		Type:     f.Type.String(),
		SrcPAN:   hex4(f.SrcPAN),
		FCS:      res.FCS.Status.String(),
		Payload:  hex.EncodeToString(res.Payload),
		Beacon:   f.Beacon,
		Command:  f.Command,
		Warnings: res.Warnings,
	}
	if f.SeqPresent {
		seq := f.Seq
		out.Seq = &seq
	}
	if f.Src.Mode().Present() {
		out.Src = f.Src.String()
	}
	if f.DstPANPresent {
		out.DstPAN = hex4(f.DstPAN)
	}
	if f.Dst.Mode().Present() {
		out.Dst = f.Dst.String()
	}
	if res.Decrypt != mac.DecryptNone {
		out.Security = res.Decrypt.String()
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	return json.Marshal(out)
}

func hex4(v uint16) string { return fmt.Sprintf("0x%04x", v) }
