// Command slam-mapper drives a LocalMapper over a file of pre-tracked
// keyframes: parse flags, wire the subsystem's collaborators, run it to
// completion, and report what it did. Front-end tracking (feature
// extraction, frame-to-frame pose estimation) is out of scope here, so the
// keyframes this command ingests are expected to already carry a pose and
// ORB descriptors, exactly as the tracker would hand them off.
package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sg47/SLAMRecon/internal/security"
	"github.com/sg47/SLAMRecon/internal/slam/geom"
	"github.com/sg47/SLAMRecon/internal/slam/ids"
	"github.com/sg47/SLAMRecon/internal/slam/localmapper"
	"github.com/sg47/SLAMRecon/internal/slam/slamlog"
	"github.com/sg47/SLAMRecon/internal/slam/smap"
	"github.com/sg47/SLAMRecon/internal/slam/snapshot"
	"github.com/sg47/SLAMRecon/internal/slam/tuning"
	"github.com/sg47/SLAMRecon/internal/version"
)

var (
	input       = flag.String("input", "", "path to a JSON-lines file of tracked keyframes (required)")
	tuningPath  = flag.String("tuning", "", "path to a JSON tuning override file (default: built-in defaults)")
	snapshotOut = flag.String("snapshot-out", "", "if set, export the final map graph to this SQLite file")
	verbose     = flag.Bool("verbose", false, "enable diag-level logging")
	trace       = flag.Bool("trace", false, "enable trace-level logging (implies -verbose)")
	showVersion = flag.Bool("version", false, "print version information and exit")
)

// keyframeRecord is the on-disk shape of a single tracked keyframe. Feature
// indices line up across Keypoints and MapPointMatches.
type keyframeRecord struct {
	SourceFrameID   int64            `json:"source_frame_id"`
	Intrinsics      geom.Intrinsics  `json:"intrinsics"`
	Bounds          smap.ImageBounds `json:"bounds"`
	Pyramid         pyramidRecord    `json:"pyramid"`
	Keypoints       []keypointRecord `json:"keypoints"`
	MapPointMatches []int64          `json:"map_point_matches,omitempty"`
	PoseR           *[3][3]float64   `json:"pose_r,omitempty"`
	PoseT           *[3]float64      `json:"pose_t,omitempty"`
}

type pyramidRecord struct {
	ScaleFactor    []float64 `json:"scale_factor"`
	LevelSigma2    []float64 `json:"level_sigma2"`
	LogScaleFactor float64   `json:"log_scale_factor"`
}

type keypointRecord struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Octave     int     `json:"octave"`
	Angle      float64 `json:"angle"`
	Depth      float64 `json:"depth"`
	Descriptor string  `json:"descriptor"` // hex-encoded, 32 bytes
}

func (r keyframeRecord) toKeyFrame(id ids.KeyFrameID) (*smap.KeyFrame, error) {
	kps := make([]smap.Keypoint, len(r.Keypoints))
	descs := make([]geom.Descriptor, len(r.Keypoints))
	for i, kp := range r.Keypoints {
		kps[i] = smap.Keypoint{X: kp.X, Y: kp.Y, Octave: kp.Octave, Angle: kp.Angle, Depth: kp.Depth}
		raw, err := hex.DecodeString(kp.Descriptor)
		if err != nil {
			return nil, fmt.Errorf("keypoint %d: decode descriptor: %w", i, err)
		}
		if len(raw) != geom.DescriptorLength {
			return nil, fmt.Errorf("keypoint %d: descriptor is %d bytes, want %d", i, len(raw), geom.DescriptorLength)
		}
		copy(descs[i][:], raw)
	}

	pyr := smap.ScalePyramid{
		ScaleFactor:    r.Pyramid.ScaleFactor,
		LevelSigma2:    r.Pyramid.LevelSigma2,
		LogScaleFactor: r.Pyramid.LogScaleFactor,
	}
	kf := smap.NewKeyFrame(id, r.SourceFrameID, r.Intrinsics, r.Bounds, pyr, kps, descs)

	pose := geom.IdentityPose()
	if r.PoseR != nil {
		pose.R = geom.Mat3(*r.PoseR)
	}
	if r.PoseT != nil {
		pose.T = geom.Vec3{X: r.PoseT[0], Y: r.PoseT[1], Z: r.PoseT[2]}
	}
	kf.SetPose(pose)

	for i, mpID := range r.MapPointMatches {
		if mpID > 0 {
			kf.AddMapPointMatch(i, ids.MapPointID(mpID))
		}
	}
	return kf, nil
}

func readKeyFrames(path string, lm *localmapper.Mapper) ([]*smap.KeyFrame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var out []*smap.KeyFrame
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec keyframeRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("parse keyframe record: %w", err)
		}
		kf, err := rec.toKeyFrame(lm.Map.NewKeyFrameID())
		if err != nil {
			return nil, fmt.Errorf("build keyframe: %w", err)
		}
		out = append(out, kf)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}
	return out, nil
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("slam-mapper %s (commit %s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	if *input == "" {
		log.Fatal("-input is required")
	}

	writers := slamlog.LogWriters{Ops: os.Stderr}
	if *verbose || *trace {
		writers.Diag = os.Stderr
	}
	if *trace {
		writers.Trace = os.Stderr
	}
	slamlog.SetLogWriters(writers)

	t := tuning.DefaultMapperTuning()
	if *tuningPath != "" {
		loaded, err := tuning.LoadMapperTuning(*tuningPath)
		if err != nil {
			log.Fatalf("load tuning file: %v", err)
		}
		t = loaded
	}
	if err := t.Validate(); err != nil {
		log.Fatalf("invalid tuning: %v", err)
	}

	lm := localmapper.New(localmapper.Config{Tuning: t})

	keyframes, err := readKeyFrames(*input, lm)
	if err != nil {
		log.Fatalf("read keyframes: %v", err)
	}
	log.Printf("loaded %d keyframes from %s", len(keyframes), *input)

	sigCtx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	done := make(chan struct{})
	go func() {
		lm.Run()
		close(done)
	}()

	go func() {
		<-sigCtx.Done()
		log.Print("signal received, requesting finish")
		lm.Coordinator().RequestFinish()
	}()

	for _, kf := range keyframes {
		lm.InsertKeyFrame(kf)
	}
	lm.Coordinator().RequestFinish()

	<-done

	stats := lm.Stats.Snapshot()
	log.Printf("processed=%d created=%d culled=%d fused=%d keyframes_culled=%d ba_runs=%d ba_aborts=%d",
		stats.KeyFramesProcessed, stats.PointsCreated, stats.PointsCulled, stats.PointsFused,
		stats.KeyFramesCulled, stats.BundleAdjustmentRuns, stats.BundleAdjustmentAborts)
	log.Printf("map now holds %d keyframes", lm.Map.KeyFramesInMap())

	if *snapshotOut != "" {
		if err := security.ValidateExportPath(*snapshotOut); err != nil {
			log.Fatalf("refusing snapshot export: %v", err)
		}
		store, err := snapshot.Open(*snapshotOut)
		if err != nil {
			log.Fatalf("open snapshot store: %v", err)
		}
		defer store.Close()
		if err := store.ExportSnapshot(lm.Map, lm.Covis); err != nil {
			log.Fatalf("export snapshot: %v", err)
		}
		log.Printf("wrote map snapshot to %s", *snapshotOut)
	}
}
