package services

import (
	"bytes"
	"testing"

	"github.com/sisoputnfrba/tp-kosh/memoria/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

const testHeapPages = 4

type heapTestSuite struct {
	suite.Suite
	assert *assert.Assertions
	phys   *PhysicalMemory
	frames *FrameAllocator
	heap   *KernelHeap
}

func (s *heapTestSuite) SetupTest() {
	s.assert = assert.New(s.T())

	phys, err := NewPhysicalMemory(testMemorySize, false)
	s.Require().NoError(err)
	frames, err := NewFrameAllocator(phys, nil)
	s.Require().NoError(err)
	heap, err := NewKernelHeap(phys, frames, testHeapPages)
	s.Require().NoError(err)

	s.phys, s.frames, s.heap = phys, frames, heap
}

func (s *heapTestSuite) allocate(size uint64) uint64 {
	ptr, err := s.heap.Allocate(models.Layout{Size: size})
	s.Require().NoError(err)
	return ptr
}

func (s *heapTestSuite) TestInitialState() {
	stats := s.heap.Stats()

	s.assert.Equal(uint64(testHeapPages*models.PageSize), stats.HeapSize)
	s.assert.Equal(uint64(testHeapPages*models.PageSize-blockHeaderSize), stats.FreeBytes)
	s.assert.Len(s.heap.Blocks(), 1)
	s.assert.NoError(s.heap.Validate())
	s.assert.Equal(testHeapPages, s.frames.Stats().UsedPages)
}

func (s *heapTestSuite) TestAllocateSplitsAndFills() {
	ptr := s.allocate(100)

	s.assert.Zero(ptr % 16)
	s.assert.True(s.heap.Contains(ptr))

	data, err := s.heap.Bytes(ptr, 112)
	s.Require().NoError(err)
	s.assert.Equal(bytes.Repeat([]byte{models.HeapAllocPattern}, 112), data)

	blocks := s.heap.Blocks()
	s.Require().Len(blocks, 2)
	s.assert.Equal(uint64(112), blocks[0].Size)
	s.assert.False(blocks[0].Free)
	s.assert.True(blocks[1].Free)

	stats := s.heap.Stats()
	s.assert.Equal(uint64(1), stats.CurrentAllocations)
	s.assert.Equal(uint64(112), stats.CurrentBytes)
	s.assert.NoError(s.heap.Validate())
}

func (s *heapTestSuite) TestZeroSizeUsesMinimum() {
	ptr := s.allocate(0)

	_, err := s.heap.Bytes(ptr, models.HeapMinAllocation)
	s.assert.NoError(err)
	s.assert.Equal(uint64(models.HeapMinAllocation), s.heap.Stats().CurrentBytes)
}

func (s *heapTestSuite) TestTooLarge() {
	_, err := s.heap.Allocate(models.Layout{Size: models.HeapMaxAllocation + 1})
	s.assert.ErrorIs(err, models.ErrAllocationTooLarge)

	_, err = s.heap.Allocate(models.Layout{Size: models.HeapMaxAllocation})
	s.assert.ErrorIs(err, models.ErrOutOfMemory)
}

func (s *heapTestSuite) TestInvalidLayout() {
	_, err := s.heap.Allocate(models.Layout{Size: 32, Align: 3})
	s.assert.ErrorIs(err, models.ErrInvalidLayout)
}

func (s *heapTestSuite) TestDoubleFree() {
	ptr := s.allocate(64)
	s.allocate(64)

	s.assert.NoError(s.heap.Deallocate(ptr))
	s.assert.ErrorIs(s.heap.Deallocate(ptr), models.ErrDoubleFree)
	s.assert.NoError(s.heap.Validate())
}

func (s *heapTestSuite) TestInvalidPointer() {
	ptr := s.allocate(64)

	s.assert.ErrorIs(s.heap.Deallocate(0x10), models.ErrInvalidPointer)
	s.assert.ErrorIs(s.heap.Deallocate(ptr+3), models.ErrInvalidPointer)
}

func (s *heapTestSuite) TestCorruptedHeader() {
	ptr := s.allocate(64)
	header, err := s.phys.Slice(ptr-blockHeaderSize, 4)
	s.Require().NoError(err)
	copy(header, []byte{0xEF, 0xBE, 0xAD, 0x00})

	s.assert.ErrorIs(s.heap.Deallocate(ptr), models.ErrHeapCorruption)
	s.assert.ErrorIs(s.heap.Validate(), models.ErrHeapCorruption)
}

func (s *heapTestSuite) TestSplitOnlyWhenRemainderExceedsMinimumBlock() {
	free := uint64(testHeapPages*models.PageSize - blockHeaderSize)

	// Sobran justo header + mínimo: el bloque se entrega entero.
	exact := s.allocate(free - blockHeaderSize - models.HeapMinAllocation)
	s.assert.Len(s.heap.Blocks(), 1)
	s.assert.Equal(free, s.heap.Stats().CurrentBytes)
	s.Require().NoError(s.heap.Deallocate(exact))

	s.allocate(free - blockHeaderSize - 2*models.HeapMinAllocation)
	blocks := s.heap.Blocks()
	s.Require().Len(blocks, 2)
	s.assert.Equal(uint64(2*models.HeapMinAllocation), blocks[1].Size)
	s.assert.NoError(s.heap.Validate())
}

func (s *heapTestSuite) TestFreedBlockIsReusedFirst() {
	first := s.allocate(64)
	s.allocate(64)

	s.Require().NoError(s.heap.Deallocate(first))
	again := s.allocate(64)

	s.assert.Equal(first, again)
}

func (s *heapTestSuite) TestCoalescingRestoresSingleBlock() {
	a := s.allocate(64)
	b := s.allocate(128)
	c := s.allocate(256)

	s.Require().NoError(s.heap.Deallocate(a))
	s.Require().NoError(s.heap.Deallocate(c))
	s.assert.NoError(s.heap.Validate())
	s.Require().NoError(s.heap.Deallocate(b))

	blocks := s.heap.Blocks()
	s.Require().Len(blocks, 1)
	s.assert.True(blocks[0].Free)
	s.assert.Equal(uint64(testHeapPages*models.PageSize-blockHeaderSize), blocks[0].Size)
	s.assert.Equal(blocks[0].Size, s.heap.Stats().FreeBytes)
	s.assert.NoError(s.heap.Validate())
}

func (s *heapTestSuite) TestFreedPayloadIsPoisoned() {
	a := s.allocate(64)
	s.allocate(64)

	s.Require().NoError(s.heap.Deallocate(a))
	payload, err := s.phys.Slice(a, 64)
	s.Require().NoError(err)

	s.assert.Equal(bytes.Repeat([]byte{models.HeapFreePattern}, 64), payload)
}

func (s *heapTestSuite) TestStatsTrackPeak() {
	a := s.allocate(512)
	b := s.allocate(512)
	s.Require().NoError(s.heap.Deallocate(a))
	s.Require().NoError(s.heap.Deallocate(b))

	stats := s.heap.Stats()
	s.assert.Equal(uint64(2), stats.TotalAllocations)
	s.assert.Equal(uint64(2), stats.TotalDeallocations)
	s.assert.Equal(uint64(0), stats.CurrentAllocations)
	s.assert.Equal(uint64(1024), stats.PeakBytes)
	s.assert.Equal(uint64(1024), stats.BytesDeallocated)
	s.assert.Equal(uint64(0), stats.CurrentBytes)
}

func (s *heapTestSuite) TestRelease() {
	s.heap.Release()

	s.assert.Equal(0, s.frames.Stats().UsedPages)
}

func TestKernelHeap(t *testing.T) {
	suite.Run(t, new(heapTestSuite))
}
