package tilepack

import (
	"fmt"
	"hash"
	"hash/fnv"
	"io"
	"log/slog"
	"math"
	"os"
	"sort"
	"strconv"

	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/protomaps/go-pmtiles/pmtiles"
)

type offsetLen struct {
	offset uint64
	length uint32
}

// pmtilesOutputter spools tile blobs to a temp file and writes the PMTiles
// v3 archive on Close. Identical blobs are stored once.
type pmtilesOutputter struct {
	tileset   *roaring64.Bitmap
	hashFunc  hash.Hash
	offsetMap map[string]offsetLen
	tileData  *os.File
	entries   []pmtiles.EntryV3
	header    pmtiles.HeaderV3
	metadata  *MbtilesMetadata
	outFile   *os.File
	closed    bool
}

var _ TileOutputter = (*pmtilesOutputter)(nil)

func NewPmtilesOutputter(dsn string, format Format, metadata *MbtilesMetadata) (*pmtilesOutputter, error) {
	var tileType pmtiles.TileType = pmtiles.Png
	if format == JPEG {
		tileType = pmtiles.Jpeg
	}

	tmpFile, err := os.CreateTemp("", "pmtiles-tiledata")
	if err != nil {
		return nil, storageError("open", fmt.Errorf("error creating temp file: %w", err))
	}

	outFile, err := os.Create(dsn)
	if err != nil {
		tmpFile.Close()
		os.Remove(tmpFile.Name())
		return nil, storageError("open", fmt.Errorf("error creating pmtiles output file: %w", err))
	}

	if metadata == nil {
		metadata = NewMbtilesMetadata(nil)
	}

	outputter := &pmtilesOutputter{
		outFile:   outFile,
		tileset:   roaring64.New(),
		hashFunc:  fnv.New128a(),
		tileData:  tmpFile,
		offsetMap: make(map[string]offsetLen),
		entries:   make([]pmtiles.EntryV3, 0),
		metadata:  metadata,
		header: pmtiles.HeaderV3{
			SpecVersion:         3,
			Clustered:           false,
			InternalCompression: pmtiles.Gzip,
			TileCompression:     pmtiles.NoCompression,
			TileType:            tileType,
		},
	}
	return outputter, nil
}

func (p *pmtilesOutputter) CreateTiles() error {
	return nil
}

// Save records one XYZ tile. PMTiles tile ids use top-origin rows.
func (p *pmtilesOutputter) Save(tile maptile.Tile, data []byte) error {
	id := pmtiles.ZxyToID(uint8(tile.Z), tile.X, tile.Y)
	if p.tileset.Contains(id) {
		return nil
	}
	p.tileset.Add(id)

	// Hash the tile data to use as a key for dedupe
	p.hashFunc.Reset()
	p.hashFunc.Write(data)
	sumString := string(p.hashFunc.Sum(nil))
	found, ok := p.offsetMap[sumString]

	if !ok {
		offset, err := p.tileData.Seek(0, io.SeekEnd)
		if err != nil {
			return storageError("write", err)
		}

		bytesWritten, err := p.tileData.Write(data)
		if err != nil {
			return storageError("write", err)
		}

		found = offsetLen{
			offset: uint64(offset),
			length: uint32(bytesWritten),
		}

		p.offsetMap[sumString] = found
	}

	p.entries = append(p.entries, pmtiles.EntryV3{
		TileID:    id,
		Offset:    found.offset,
		Length:    found.length,
		RunLength: 1,
	})

	return nil
}

// AssignSpatialMetadata sets the header zooms, bounds and center from a
// geographic bound.
func (p *pmtilesOutputter) AssignSpatialMetadata(bound orb.Bound, minZoom maptile.Zoom, maxZoom maptile.Zoom) error {
	center := bound.Center()

	p.header.MinZoom = uint8(minZoom)
	p.header.MaxZoom = uint8(maxZoom)
	p.header.CenterZoom = uint8((minZoom + maxZoom) / 2)
	p.header.MinLonE7 = toE7(bound.Min.Lon())
	p.header.MinLatE7 = toE7(bound.Min.Lat())
	p.header.MaxLonE7 = toE7(bound.Max.Lon())
	p.header.MaxLatE7 = toE7(bound.Max.Lat())
	p.header.CenterLonE7 = toE7(center.Lon())
	p.header.CenterLatE7 = toE7(center.Lat())

	p.metadata.SetSpatial(bound, minZoom, maxZoom)
	return nil
}

func toE7(v float64) int32 {
	return int32(math.Round(v * 10000000))
}

func (p *pmtilesOutputter) jsonMetadata() map[string]interface{} {
	jsonMetadata := make(map[string]interface{})

	for _, k := range p.metadata.Keys() {
		v, _ := p.metadata.Get(k)

		switch k {
		case "minzoom", "maxzoom":
			if i, err := strconv.Atoi(v); err == nil {
				jsonMetadata[k] = i
				continue
			}
		}
		jsonMetadata[k] = v
	}

	return jsonMetadata
}

func (p *pmtilesOutputter) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true

	defer os.Remove(p.tileData.Name())
	defer p.tileData.Close()
	defer p.outFile.Close()

	sort.Slice(p.entries, func(i, j int) bool {
		return p.entries[i].TileID < p.entries[j].TileID
	})

	p.header.AddressedTilesCount = p.tileset.GetCardinality()
	p.header.TileEntriesCount = uint64(len(p.entries))
	p.header.TileContentsCount = uint64(len(p.offsetMap))

	rootBytes, leavesBytes, numLeaves := optimizeDirectories(p.entries, 16384-pmtiles.HeaderV3LenBytes, pmtiles.Gzip)

	slog.Debug("Writing pmtiles archive",
		"tiles", p.tileset.GetCardinality(),
		"root_bytes", len(rootBytes),
		"leaf_bytes", len(leavesBytes),
		"leaf_dirs", numLeaves)

	metadataBytes, err := pmtiles.SerializeMetadata(p.jsonMetadata(), pmtiles.Gzip)
	if err != nil {
		return storageError("close", fmt.Errorf("error serializing pmtiles metadata: %w", err))
	}

	tileDataLength, err := p.tileData.Seek(0, io.SeekEnd)
	if err != nil {
		return storageError("close", err)
	}

	p.header.RootOffset = pmtiles.HeaderV3LenBytes
	p.header.RootLength = uint64(len(rootBytes))
	p.header.MetadataOffset = p.header.RootOffset + p.header.RootLength
	p.header.MetadataLength = uint64(len(metadataBytes))
	p.header.LeafDirectoryOffset = p.header.MetadataOffset + p.header.MetadataLength
	p.header.LeafDirectoryLength = uint64(len(leavesBytes))
	p.header.TileDataOffset = p.header.LeafDirectoryOffset + p.header.LeafDirectoryLength
	p.header.TileDataLength = uint64(tileDataLength)

	sections := []struct {
		name string
		data []byte
	}{
		{"header", pmtiles.SerializeHeader(p.header)},
		{"root directory", rootBytes},
		{"metadata", metadataBytes},
		{"leaf directory", leavesBytes},
	}

	for _, s := range sections {
		if _, err := p.outFile.Write(s.data); err != nil {
			return storageError("close", fmt.Errorf("error writing pmtiles %s: %w", s.name, err))
		}
	}

	if _, err := p.tileData.Seek(0, io.SeekStart); err != nil {
		return storageError("close", fmt.Errorf("error seeking to start of tile data: %w", err))
	}

	if _, err := io.Copy(p.outFile, p.tileData); err != nil {
		return storageError("close", fmt.Errorf("error copying tile data to outfile: %w", err))
	}

	return storageError("close", p.outFile.Close())
}

func optimizeDirectories(entries []pmtiles.EntryV3, targetRootLen int, compression pmtiles.Compression) ([]byte, []byte, int) {
	if len(entries) < 16384 {
		testRootBytes := pmtiles.SerializeEntries(entries, compression)
		if len(testRootBytes) <= targetRootLen {
			// The entire directory fits into the root
			return testRootBytes, make([]byte, 0), 0
		}
	}

	// Root directory is leaf pointers only. Grow the leaves until it fits
	leafSize := float32(len(entries)) / 3500
	if leafSize < 4096 {
		leafSize = 4096
	}

	for {
		rootBytes, leavesBytes, numLeaves := buildRootsLeaves(entries, int(leafSize), compression)
		if len(rootBytes) <= targetRootLen {
			return rootBytes, leavesBytes, numLeaves
		}
		leafSize *= 1.2
	}
}

func buildRootsLeaves(entries []pmtiles.EntryV3, leafSize int, compression pmtiles.Compression) ([]byte, []byte, int) {
	rootEntries := make([]pmtiles.EntryV3, 0)
	leavesBytes := make([]byte, 0)
	numLeaves := 0

	for i := 0; i < len(entries); i += leafSize {
		numLeaves++
		end := min(i+leafSize, len(entries))
		serialized := pmtiles.SerializeEntries(entries[i:end], compression)

		rootEntries = append(rootEntries, pmtiles.EntryV3{
			TileID:    entries[i].TileID,
			Offset:    uint64(len(leavesBytes)),
			Length:    uint32(len(serialized)),
			RunLength: 0,
		})
		leavesBytes = append(leavesBytes, serialized...)
	}

	rootBytes := pmtiles.SerializeEntries(rootEntries, compression)
	return rootBytes, leavesBytes, numLeaves
}
