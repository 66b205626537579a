package arena

import (
	"fmt"
	"sync"
)

// Buddy allocator backing task stacks and IPC buffers.
// Uses power-of-2 block sizes with automatic coalescing. Free-list links are
// stored inside the free blocks themselves, so bookkeeping overhead stays
// constant regardless of arena size.

const (
	// MinBlockSize is the smallest allocatable block (also the stack floor).
	MinBlockSize = 256
	// MaxBlockSize is the largest allocatable block.
	MaxBlockSize = 64 * 1024
	numLevels    = 9 // 256B .. 64KB
)

// Allocator hands out byte regions from a fixed heap.
type Allocator struct {
	heap      []byte
	totalSize uint32

	// Free lists per level (0=256B .. 8=64KB), heads are heap offsets.
	// Offset 0 is reserved so it can act as the null link.
	freeLists [numLevels]uint32

	// Allocation bitmap, 1 bit per min block.
	bitmap []uint64

	// Level tracking, 1 byte per min block.
	blockLevels []uint8

	allocated uint32

	mu sync.Mutex
}

// New creates an allocator owning a heap of the given size.
// Size is rounded down to a multiple of MinBlockSize; the first min block is
// reserved as the null sentinel.
func New(size uint32) (*Allocator, error) {
	size = size - size%MinBlockSize
	if size < 2*MinBlockSize {
		return nil, fmt.Errorf("arena size %d too small", size)
	}

	numBlocks := int(size / MinBlockSize)
	a := &Allocator{
		heap:        make([]byte, size),
		totalSize:   size,
		bitmap:      make([]uint64, (numBlocks+63)/64),
		blockLevels: make([]uint8, numBlocks),
	}

	// Block 0 is the reserved sentinel.
	a.bitmap[0] |= 1

	// Seed free lists with the largest blocks that fit.
	remaining := size - MinBlockSize
	offset := uint32(MinBlockSize)
	for remaining >= MinBlockSize {
		level := numLevels - 1
		for level >= 0 {
			blockSize := levelToSize(level)
			// A block must be naturally aligned for buddy arithmetic.
			if blockSize <= remaining && offset%blockSize == 0 {
				a.addToFreeList(offset, level)
				offset += blockSize
				remaining -= blockSize
				break
			}
			level--
		}
	}

	return a, nil
}

// Allocate returns a zeroed region of at least the given size along with its
// offset. The offset identifies the region for Free.
func (a *Allocator) Allocate(size uint32) ([]byte, uint32, error) {
	if size == 0 || size > MaxBlockSize {
		return nil, 0, fmt.Errorf("allocation size %d out of range", size)
	}
	if size < MinBlockSize {
		size = MinBlockSize
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	level := sizeToLevel(size)
	offset := a.findFreeBlock(level)
	if offset == 0 {
		return nil, 0, fmt.Errorf("out of memory: %d bytes requested, %d free", size, a.totalSize-a.allocated)
	}

	a.markAllocated(offset, level)
	blockSize := levelToSize(level)
	a.allocated += blockSize

	region := a.heap[offset : offset+blockSize : offset+blockSize]
	for i := range region {
		region[i] = 0
	}
	return region, offset, nil
}

// Free returns the block at the given offset to the arena.
func (a *Allocator) Free(offset uint32) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if offset == 0 || offset >= a.totalSize || offset%MinBlockSize != 0 {
		return fmt.Errorf("invalid offset %d", offset)
	}
	blockIndex := offset / MinBlockSize
	if a.bitmap[blockIndex/64]&(1<<(blockIndex%64)) == 0 {
		return fmt.Errorf("double free at offset %d", offset)
	}

	level := int(a.blockLevels[blockIndex])
	a.markFree(offset, level)
	a.allocated -= levelToSize(level)
	a.coalesce(offset, level)
	return nil
}

// FreeBytes reports how much of the heap is currently unallocated.
func (a *Allocator) FreeBytes() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totalSize - MinBlockSize - a.allocated
}

// TotalBytes reports the usable heap size.
func (a *Allocator) TotalBytes() uint32 {
	return a.totalSize - MinBlockSize
}

func sizeToLevel(size uint32) int {
	level := 0
	blockSize := uint32(MinBlockSize)
	for blockSize < size && level < numLevels-1 {
		blockSize *= 2
		level++
	}
	return level
}

func levelToSize(level int) uint32 {
	return MinBlockSize << uint(level)
}

// findFreeBlock pops a block at the level, splitting a larger one if needed.
func (a *Allocator) findFreeBlock(level int) uint32 {
	if a.freeLists[level] != 0 {
		offset := a.freeLists[level]
		a.freeLists[level] = a.nextFree(offset)
		return offset
	}

	for l := level + 1; l < numLevels; l++ {
		if a.freeLists[l] != 0 {
			return a.splitBlock(l, level)
		}
	}
	return 0
}

func (a *Allocator) splitBlock(fromLevel, toLevel int) uint32 {
	offset := a.freeLists[fromLevel]
	a.freeLists[fromLevel] = a.nextFree(offset)

	for level := fromLevel - 1; level >= toLevel; level-- {
		buddyOffset := offset + levelToSize(level)
		a.addToFreeList(buddyOffset, level)
	}
	return offset
}

func (a *Allocator) coalesce(offset uint32, level int) {
	for level < numLevels-1 {
		blockSize := levelToSize(level)
		buddyOffset := offset ^ blockSize

		if !a.isFree(buddyOffset, level) {
			break
		}

		a.removeFromFreeList(buddyOffset, level)
		if buddyOffset < offset {
			offset = buddyOffset
		}
		level++
	}
	a.addToFreeList(offset, level)
}

func (a *Allocator) isFree(offset uint32, level int) bool {
	blockSize := levelToSize(level)
	numBlocks := blockSize / MinBlockSize
	blockIndex := offset / MinBlockSize

	totalBlocks := a.totalSize / MinBlockSize
	if offset == 0 || blockIndex+numBlocks > totalBlocks {
		return false
	}

	for i := uint32(0); i < numBlocks; i++ {
		bitIndex := int(blockIndex + i)
		if a.bitmap[bitIndex/64]&(1<<(bitIndex%64)) != 0 {
			return false
		}
	}
	// A free region only counts as a buddy if it was freed at the same level.
	return a.blockLevels[blockIndex] == uint8(level)
}

func (a *Allocator) markAllocated(offset uint32, level int) {
	blockSize := levelToSize(level)
	numBlocks := blockSize / MinBlockSize
	blockIndex := offset / MinBlockSize

	for i := uint32(0); i < numBlocks; i++ {
		bitIndex := int(blockIndex + i)
		a.bitmap[bitIndex/64] |= 1 << (bitIndex % 64)
	}
	a.blockLevels[blockIndex] = uint8(level)
}

func (a *Allocator) markFree(offset uint32, level int) {
	blockSize := levelToSize(level)
	numBlocks := blockSize / MinBlockSize
	blockIndex := offset / MinBlockSize

	for i := uint32(0); i < numBlocks; i++ {
		bitIndex := int(blockIndex + i)
		a.bitmap[bitIndex/64] &^= 1 << (bitIndex % 64)
	}
}

func (a *Allocator) addToFreeList(offset uint32, level int) {
	a.writeU32(offset, a.freeLists[level])
	a.freeLists[level] = offset
	blockIndex := offset / MinBlockSize
	a.blockLevels[blockIndex] = uint8(level)
}

func (a *Allocator) removeFromFreeList(offset uint32, level int) {
	if a.freeLists[level] == offset {
		a.freeLists[level] = a.nextFree(offset)
		return
	}

	current := a.freeLists[level]
	for current != 0 {
		next := a.nextFree(current)
		if next == offset {
			a.writeU32(current, a.nextFree(offset))
			return
		}
		current = next
	}
}

func (a *Allocator) nextFree(offset uint32) uint32 {
	if offset == 0 || offset+4 > a.totalSize {
		return 0
	}
	return uint32(a.heap[offset]) |
		uint32(a.heap[offset+1])<<8 |
		uint32(a.heap[offset+2])<<16 |
		uint32(a.heap[offset+3])<<24
}

func (a *Allocator) writeU32(offset, value uint32) {
	a.heap[offset] = byte(value)
	a.heap[offset+1] = byte(value >> 8)
	a.heap[offset+2] = byte(value >> 16)
	a.heap[offset+3] = byte(value >> 24)
}

// Stats describes arena occupancy.
type Stats struct {
	TotalSize  uint32
	Allocated  uint32
	Free       uint32
	FreeBlocks [numLevels]int
}

// GetStats returns a point-in-time view of the arena.
func (a *Allocator) GetStats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	stats := Stats{
		TotalSize: a.totalSize - MinBlockSize,
		Allocated: a.allocated,
	}
	stats.Free = stats.TotalSize - stats.Allocated

	for level := 0; level < numLevels; level++ {
		count := 0
		for offset := a.freeLists[level]; offset != 0; offset = a.nextFree(offset) {
			count++
		}
		stats.FreeBlocks[level] = count
	}
	return stats
}
