package msc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRead6LBA(t *testing.T) {
	tests := []struct {
		name string
		cb   [16]byte
		want uint32
	}{
		{"zero LBA", [16]byte{SCSIRead6, 0x00, 0x00, 0x00}, 0},
		{"low byte only", [16]byte{SCSIRead6, 0x00, 0x00, 0x7F}, 0x7F},
		{"all 21 bits set", [16]byte{SCSIRead6, 0x1F, 0xFF, 0xFF}, 0x1FFFFF},
		{"reserved high bits of CB[1] ignored", [16]byte{SCSIRead6, 0xFF, 0x00, 0x01}, 0x1F0001},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, read6LBA(tt.cb[:]))
		})
	}
}

func TestRead6Length(t *testing.T) {
	tests := []struct {
		name string
		cb   [16]byte
		want uint32
	}{
		{"zero means 256 blocks", [16]byte{SCSIRead6, 0, 0, 0, 0x00}, 256},
		{"one block", [16]byte{SCSIRead6, 0, 0, 0, 0x01}, 1},
		{"max non-zero value", [16]byte{SCSIRead6, 0, 0, 0, 0xFF}, 0xFF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, read6Length(tt.cb[:]))
		})
	}
}
