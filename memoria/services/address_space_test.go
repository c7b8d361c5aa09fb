package services

import (
	"errors"
	"testing"

	cpuservices "github.com/sisoputnfrba/tp-kosh/cpu/services"
	"github.com/sisoputnfrba/tp-kosh/memoria/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type addressSpaceTestSuite struct {
	suite.Suite
	assert *assert.Assertions
	phys   *PhysicalMemory
	frames *FrameAllocator
	tlb    *cpuservices.TLB
	space  *AddressSpace
}

func (s *addressSpaceTestSuite) SetupTest() {
	s.assert = assert.New(s.T())

	phys, err := NewPhysicalMemory(testMemorySize, false)
	s.Require().NoError(err)
	frames, err := NewFrameAllocator(phys, nil)
	s.Require().NoError(err)
	tlb := cpuservices.NewTLB(8, "LRU")
	space, err := NewAddressSpace(1, phys, frames, tlb)
	s.Require().NoError(err)

	s.phys, s.frames, s.tlb, s.space = phys, frames, tlb, space
}

func (s *addressSpaceTestSuite) frame() models.PageFrame {
	frame, ok := s.frames.AllocateFrame()
	s.Require().True(ok)
	return frame
}

func (s *addressSpaceTestSuite) TestMapAndTranslate() {
	frame := s.frame()

	s.Require().NoError(s.space.MapPage(0x400123, frame, models.ProtUserRW))

	phys, ok := s.space.Translate(0x400123)
	s.assert.True(ok)
	s.assert.Equal(frame.Address()+0x123, phys)
	s.assert.True(s.space.IsMapped(0x400000))
	s.assert.False(s.space.IsMapped(0x401000))
	// PML4 + PDPT + PD + PT
	s.assert.Equal(4, s.space.TableFrames())
}

func (s *addressSpaceTestSuite) TestEntryFlags() {
	frame := s.frame()
	s.Require().NoError(s.space.MapPage(0x400000, frame, models.ProtUserRW))

	entry, ok := s.space.Entry(0x400000)

	s.Require().True(ok)
	s.assert.True(entry.IsPresent())
	s.assert.True(entry.Flags().Has(models.FlagWritable))
	s.assert.True(entry.Flags().Has(models.FlagUser))
	s.assert.True(entry.Flags().Has(models.FlagNoExecute))
	s.assert.Equal(models.ProtUserRW, entry.Flags().Protection())
}

func (s *addressSpaceTestSuite) TestTranslateUsesTLB() {
	s.Require().NoError(s.space.MapPage(0x400000, s.frame(), models.ProtReadWrite))

	s.space.Translate(0x400000)
	s.space.Translate(0x400010)

	stats := s.tlb.Stats()
	s.assert.Equal(uint64(1), stats.Misses)
	s.assert.Equal(uint64(1), stats.Hits)
}

func (s *addressSpaceTestSuite) TestUnmapFlushesTLB() {
	frame := s.frame()
	s.Require().NoError(s.space.MapPage(0x400000, frame, models.ProtReadWrite))
	s.space.Translate(0x400000)

	unmapped, err := s.space.UnmapPage(0x400000)

	s.assert.NoError(err)
	s.assert.Equal(frame, unmapped)
	_, ok := s.space.Translate(0x400000)
	s.assert.False(ok)
}

func (s *addressSpaceTestSuite) TestAlreadyMapped() {
	s.Require().NoError(s.space.MapPage(0x400000, s.frame(), models.ProtReadWrite))

	err := s.space.MapPage(0x400800, s.frame(), models.ProtReadWrite)

	var mapErr *models.MapError
	s.Require().True(errors.As(err, &mapErr))
	s.assert.Equal(models.VirtualAddress(0x400000), mapErr.Addr)
	s.assert.ErrorIs(err, models.ErrPageAlreadyMapped)
}

func (s *addressSpaceTestSuite) TestUnmapNotMapped() {
	_, err := s.space.UnmapPage(0x400000)

	var unmapErr *models.UnmapError
	s.assert.True(errors.As(err, &unmapErr))
	s.assert.ErrorIs(err, models.ErrPageNotMapped)
}

func (s *addressSpaceTestSuite) TestNonCanonicalAddress() {
	err := s.space.MapPage(0x0000800000000000, s.frame(), models.ProtReadWrite)
	s.assert.ErrorIs(err, models.ErrInvalidAddress)

	_, ok := s.space.Translate(0x0000800000000000)
	s.assert.False(ok)
}

func (s *addressSpaceTestSuite) TestFrameAllocationFailed() {
	for {
		if _, ok := s.frames.AllocateFrame(); !ok {
			break
		}
	}

	err := s.space.MapPage(0x400000, 300, models.ProtReadWrite)

	s.assert.ErrorIs(err, models.ErrFrameAllocationFailed)
}

func (s *addressSpaceTestSuite) TestMapRange() {
	start, ok := s.frames.AllocateFrames(3)
	s.Require().True(ok)

	s.Require().NoError(s.space.MapRange(0x600000, start.Address(), 3*models.PageSize, models.ProtReadOnly))

	for i := uint64(0); i < 3; i++ {
		phys, ok := s.space.Translate(models.VirtualAddress(0x600000 + i*models.PageSize))
		s.assert.True(ok)
		s.assert.Equal(start.Address()+i*models.PageSize, phys)
	}

	s.assert.NoError(s.space.UnmapRange(0x600000, 3*models.PageSize))
	s.assert.Empty(s.space.Mappings())
	s.assert.ErrorIs(s.space.UnmapRange(0x600000, models.PageSize), models.ErrPageNotMapped)
}

func (s *addressSpaceTestSuite) TestMappingsSignExtendHigherHalf() {
	frame := s.frame()
	s.Require().NoError(s.space.MapPage(models.KernelHeapStart, frame, models.ProtReadWrite))
	s.Require().NoError(s.space.MapPage(0x400000, s.frame(), models.ProtUserRW))

	mappings := s.space.Mappings()

	s.Require().Len(mappings, 2)
	s.assert.Equal(models.VirtualAddress(0x400000), mappings[0].Virtual)
	s.assert.Equal(models.VirtualAddress(models.KernelHeapStart), mappings[1].Virtual)
	s.assert.Equal(frame, mappings[1].Frame)
}

func (s *addressSpaceTestSuite) TestSwappedEntries() {
	frame := s.frame()
	s.Require().NoError(s.space.MapPage(0x400000, frame, models.ProtUserRW))
	s.space.Translate(0x400000)

	s.assert.ErrorIs(s.space.MarkSwapped(0x400000, frame+1, 7), models.ErrPageNotMapped)
	s.Require().NoError(s.space.MarkSwapped(0x400000, frame, 7))

	_, ok := s.space.Translate(0x400000)
	s.assert.False(ok)
	entry, ok := s.space.Entry(0x400000)
	s.Require().True(ok)
	s.assert.True(entry.IsSwapped())
	s.assert.False(entry.IsPresent())
	s.assert.Equal(models.SwapEntry(7), entry.SwapEntry())
	s.assert.True(entry.Flags().Has(models.FlagWritable))

	mapping := s.space.Mappings()[0]
	s.assert.True(mapping.Swapped)
	s.assert.Equal(models.SwapEntry(7), mapping.SwapEntry)
	s.assert.Zero(mapping.Frame)
	s.assert.ErrorIs(s.space.MarkSwapped(0x400000, frame, 8), models.ErrPageNotMapped)

	other := s.frame()
	s.Require().NoError(s.space.MarkResident(0x400000, other))
	phys, ok := s.space.Translate(0x400123)
	s.Require().True(ok)
	s.assert.Equal(other.Address()+0x123, phys)
}

func (s *addressSpaceTestSuite) TestUnmapSwappedPageReturnsNoFrame() {
	frame := s.frame()
	s.Require().NoError(s.space.MapPage(0x400000, frame, models.ProtUserRW))
	s.Require().NoError(s.space.MarkSwapped(0x400000, frame, 3))

	unmapped, err := s.space.UnmapPage(0x400000)

	s.Require().NoError(err)
	s.assert.Zero(unmapped)
	s.assert.False(s.space.IsMapped(0x400000))
}

func (s *addressSpaceTestSuite) TestRegions() {
	text := models.VirtualMemoryRegion{Start: 0x400000, Size: 0x2000, Protection: models.ProtReadExecute, Name: "text"}
	s.Require().NoError(s.space.AddRegion(text))

	overlapping := models.VirtualMemoryRegion{Start: 0x401000, Size: 0x1000, Protection: models.ProtReadWrite, Name: "data"}
	s.assert.ErrorIs(s.space.AddRegion(overlapping), models.ErrRegionOverlap)

	region, ok := s.space.FindRegion(0x401FFF)
	s.assert.True(ok)
	s.assert.Equal("text", region.Name)
	_, ok = s.space.FindRegion(0x402000)
	s.assert.False(ok)
	s.assert.Len(s.space.Regions(), 1)
}

func (s *addressSpaceTestSuite) TestDestroyReleasesTables() {
	before := s.frames.Stats().UsedPages
	data := s.frame()
	s.Require().NoError(s.space.MapPage(0x400000, data, models.ProtReadWrite))

	s.space.Destroy()

	// Se liberan la raíz y las tablas intermedias; el frame de datos queda.
	s.assert.Equal(before, s.frames.Stats().UsedPages)
	s.assert.False(s.frames.IsFrameFree(data))
	s.assert.Zero(s.tlb.Stats().Entries)
}

func TestAddressSpace(t *testing.T) {
	suite.Run(t, new(addressSpaceTestSuite))
}
