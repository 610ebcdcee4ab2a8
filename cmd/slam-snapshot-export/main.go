// Command slam-snapshot-export reads a serialized map graph dump and writes
// it into a SQLite snapshot database for offline inspection, kept as its own
// small binary rather than folded into a multi-purpose tool.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/sg47/SLAMRecon/internal/security"
	"github.com/sg47/SLAMRecon/internal/slam/covis"
	"github.com/sg47/SLAMRecon/internal/slam/geom"
	"github.com/sg47/SLAMRecon/internal/slam/ids"
	"github.com/sg47/SLAMRecon/internal/slam/smap"
	"github.com/sg47/SLAMRecon/internal/slam/snapshot"
	"github.com/sg47/SLAMRecon/internal/slam/tuning"
)

var (
	dumpPath = flag.String("dump", "", "path to a JSON map-graph dump (required)")
	outPath  = flag.String("out", "", "path to the SQLite snapshot file to write (required)")
)

// mapDump is the JSON shape a LocalMapper-adjacent process would produce by
// walking smap.Map and covis.Graph directly. It is deliberately flat: the
// export path rebuilds only as much structure as ExportSnapshot needs.
type mapDump struct {
	KeyFrames []keyFrameDump `json:"keyframes"`
	MapPoints []mapPointDump `json:"map_points"`
}

type keyFrameDump struct {
	ID            int64        `json:"id"`
	SourceFrameID int64        `json:"source_frame_id"`
	Pose          [3][4]float64 `json:"pose"` // rows of [R|T]
	Parent        int64        `json:"parent,omitempty"`
	Bad           bool         `json:"bad"`
	Covisible     []edgeDump   `json:"covisible,omitempty"`
}

type edgeDump struct {
	NeighborID int64 `json:"neighbor_id"`
	Weight     int   `json:"weight"`
}

type mapPointDump struct {
	ID            int64           `json:"id"`
	FirstKeyFrame int64           `json:"first_keyframe_id"`
	Position      [3]float64      `json:"position"`
	Bad           bool            `json:"bad"`
	Observations  []observationDump `json:"observations,omitempty"`
}

type observationDump struct {
	KeyFrameID   int64 `json:"keyframe_id"`
	FeatureIndex int   `json:"feature_index"`
}

func loadDump(path string) (mapDump, error) {
	var dump mapDump
	data, err := os.ReadFile(path)
	if err != nil {
		return dump, fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &dump); err != nil {
		return dump, fmt.Errorf("parse %s: %w", path, err)
	}
	return dump, nil
}

// rebuild replays a mapDump into a fresh smap.Map and covis.Graph so it can
// be handed to snapshot.Store.ExportSnapshot unchanged.
func rebuild(dump mapDump) (*smap.Map, *covis.Graph) {
	m := smap.NewMap()
	g := covis.New(tuning.DefaultMapperTuning())

	empty := smap.ImageBounds{}
	pyr := smap.ScalePyramid{ScaleFactor: []float64{1}, LevelSigma2: []float64{1}}

	for _, kfd := range dump.KeyFrames {
		kf := smap.NewKeyFrame(ids.KeyFrameID(kfd.ID), kfd.SourceFrameID, geom.Intrinsics{}, empty, pyr, nil, nil)
		kf.SetPose(geom.Pose{
			R: geom.Mat3{
				{kfd.Pose[0][0], kfd.Pose[0][1], kfd.Pose[0][2]},
				{kfd.Pose[1][0], kfd.Pose[1][1], kfd.Pose[1][2]},
				{kfd.Pose[2][0], kfd.Pose[2][1], kfd.Pose[2][2]},
			},
			T: geom.Vec3{X: kfd.Pose[0][3], Y: kfd.Pose[1][3], Z: kfd.Pose[2][3]},
		})
		if kfd.Parent != 0 {
			kf.SetParent(ids.KeyFrameID(kfd.Parent))
		}
		if kfd.Bad {
			kf.SetBad()
		}
		for _, e := range kfd.Covisible {
			kf.SetConnection(ids.KeyFrameID(e.NeighborID), e.Weight)
		}
		kf.RecomputeOrder()
		m.AddKeyFrame(kf)
	}

	for _, mpd := range dump.MapPoints {
		mp := smap.NewMapPoint(ids.MapPointID(mpd.ID),
			geom.Vec3{X: mpd.Position[0], Y: mpd.Position[1], Z: mpd.Position[2]},
			ids.KeyFrameID(mpd.FirstKeyFrame), geom.Descriptor{})
		for _, obs := range mpd.Observations {
			mp.AddObservation(ids.KeyFrameID(obs.KeyFrameID), obs.FeatureIndex)
		}
		m.AddMapPoint(mp)
		if mpd.Bad {
			mp.MarkBadAndClear()
		}
	}

	return m, g
}

func main() {
	flag.Parse()

	if *dumpPath == "" || *outPath == "" {
		log.Fatal("both -dump and -out are required")
	}
	if err := security.ValidateExportPath(*outPath); err != nil {
		log.Fatalf("refusing to write snapshot: %v", err)
	}

	dump, err := loadDump(*dumpPath)
	if err != nil {
		log.Fatalf("load dump: %v", err)
	}
	m, g := rebuild(dump)

	store, err := snapshot.Open(*outPath)
	if err != nil {
		log.Fatalf("open snapshot store: %v", err)
	}
	defer store.Close()

	if err := store.ExportSnapshot(m, g); err != nil {
		log.Fatalf("export snapshot: %v", err)
	}

	log.Printf("exported %d keyframes and %d map points to %s", len(dump.KeyFrames), len(dump.MapPoints), *outPath)
}
