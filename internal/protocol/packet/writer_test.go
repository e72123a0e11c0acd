package packet

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestWriter_WriteByte(t *testing.T) {
	w := NewWriter(1)
	if err := w.WriteByte(0x42); err != nil {
		t.Fatalf("WriteByte failed: %v", err)
	}
	if !bytes.Equal(w.Bytes(), []byte{0x42}) {
		t.Errorf("unexpected bytes: %x", w.Bytes())
	}
}

func TestWriter_WriteShort(t *testing.T) {
	w := NewWriter(2)
	w.WriteShort(0x1234)

	want := make([]byte, 2)
	binary.LittleEndian.PutUint16(want, 0x1234)
	if !bytes.Equal(w.Bytes(), want) {
		t.Errorf("got %x, want %x", w.Bytes(), want)
	}
}

func TestWriter_WriteInt(t *testing.T) {
	w := NewWriter(4)
	w.WriteInt(0x12345678)

	want := make([]byte, 4)
	binary.LittleEndian.PutUint32(want, 0x12345678)
	if !bytes.Equal(w.Bytes(), want) {
		t.Errorf("got %x, want %x", w.Bytes(), want)
	}
}

func TestWriter_WriteLong(t *testing.T) {
	w := NewWriter(8)
	w.WriteLong(0x123456789ABCDEF0)

	want := make([]byte, 8)
	binary.LittleEndian.PutUint64(want, 0x123456789ABCDEF0)
	if !bytes.Equal(w.Bytes(), want) {
		t.Errorf("got %x, want %x", w.Bytes(), want)
	}
}

func TestWriter_WriteDouble(t *testing.T) {
	w := NewWriter(8)
	w.WriteDouble(3.14159)

	r := NewReader(w.Bytes())
	got, err := r.ReadDouble()
	if err != nil {
		t.Fatalf("ReadDouble: %v", err)
	}
	if got != 3.14159 {
		t.Errorf("got %v, want 3.14159", got)
	}
}

func TestWriter_WriteString(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{name: "empty string", in: ""},
		{name: "ASCII string", in: "hello"},
		{name: "non-BMP rune (surrogate pair)", in: "😀"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewWriter(16)
			w.WriteString(tt.in)

			got, err := NewReader(w.Bytes()).ReadString()
			if err != nil {
				t.Fatalf("ReadString: %v", err)
			}
			if got != tt.in {
				t.Errorf("got %q, want %q", got, tt.in)
			}
		})
	}
}

func TestWriter_WriteBytes(t *testing.T) {
	w := NewWriter(4)
	w.WriteBytes([]byte{0x01, 0x02, 0x03, 0x04})
	if !bytes.Equal(w.Bytes(), []byte{0x01, 0x02, 0x03, 0x04}) {
		t.Errorf("unexpected bytes: %x", w.Bytes())
	}
}

func TestWriter_Multiple(t *testing.T) {
	w := NewWriter(16)
	_ = w.WriteByte(0x01)
	w.WriteShort(0x0203)
	w.WriteInt(0x04050607)

	out := w.Bytes()
	if len(out) != 7 {
		t.Fatalf("expected 7 bytes, got %d", len(out))
	}
	if out[0] != 0x01 {
		t.Errorf("byte offset 0: got %x, want 01", out[0])
	}
	if binary.LittleEndian.Uint16(out[1:3]) != 0x0203 {
		t.Errorf("short offset 1: got %x, want 0203", out[1:3])
	}
	if binary.LittleEndian.Uint32(out[3:7]) != 0x04050607 {
		t.Errorf("int offset 3: got %x, want 04050607", out[3:7])
	}
}

func TestWriter_Reset(t *testing.T) {
	w := NewWriter(4)
	w.WriteInt(0x12345678)
	if w.Len() == 0 {
		t.Fatal("expected non-zero length before Reset")
	}

	w.Reset()
	if w.Len() != 0 {
		t.Fatalf("expected 0 length after Reset, got %d", w.Len())
	}
}

func TestWriter_GetPutRoundTrip(t *testing.T) {
	w := Get()
	w.WriteByte(0x7F)
	if w.Len() != 1 {
		t.Fatalf("expected length 1, got %d", w.Len())
	}
	w.Put()

	w2 := Get()
	defer w2.Put()
	if w2.Len() != 0 {
		t.Fatalf("expected a pooled Writer to come back reset, got length %d", w2.Len())
	}
}
