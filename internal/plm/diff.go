package plm

import "context"

// Diff is the output of the BOM Diff Engine (spec.md §4.5): the
// symmetric-difference classification of a local vs. remote BOM line
// set, keyed by child opaque id so a PLM-side rename never churns lines.
type Diff struct {
	ToAdd    []BOMLine
	ToUpdate []QuantityChange
	ToRemove []BOMLine
	// RevisionChange is non-nil when the parent's remote revision differs
	// from the revision recorded on the local rack sheet. This is a
	// display-only comparison entry (spec.md §4.5 item 5), never acted on
	// by smart sync.
	RevisionChange *RevisionChange
}

// QuantityChange pairs a remote line with the new quantity local wants.
type QuantityChange struct {
	Remote      BOMLine
	NewQuantity int
}

// RevisionChange records a revision mismatch surfaced for display only.
type RevisionChange struct {
	LocalRevision  string
	RemoteRevision string
}

// ComputeDiff builds a Diff keyed by child opaque id. localRevision and
// remoteRevision are the rack sheet's recorded revision and the remote
// parent item's actual revision, respectively; pass "" for either side
// to skip the revision-change entry.
func ComputeDiff(local, remote []BOMLine, localRevision, remoteRevision string) Diff {
	remoteByChild := make(map[string]BOMLine, len(remote))
	for _, l := range remote {
		remoteByChild[l.ChildItemID] = l
	}
	localByChild := make(map[string]BOMLine, len(local))
	for _, l := range local {
		localByChild[l.ChildItemID] = l
	}

	var d Diff
	for childID, rline := range remoteByChild {
		if _, ok := localByChild[childID]; !ok {
			d.ToRemove = append(d.ToRemove, rline)
		}
	}
	for childID, lline := range localByChild {
		rline, ok := remoteByChild[childID]
		if !ok {
			d.ToAdd = append(d.ToAdd, lline)
			continue
		}
		if lline.Quantity != rline.Quantity {
			d.ToUpdate = append(d.ToUpdate, QuantityChange{Remote: rline, NewQuantity: lline.Quantity})
		}
	}

	if localRevision != "" && remoteRevision != "" && localRevision != remoteRevision {
		d.RevisionChange = &RevisionChange{LocalRevision: localRevision, RemoteRevision: remoteRevision}
	}
	return d
}

// Empty reports whether the diff carries no line-level changes
// (revision drift does not count — it is display-only).
func (d Diff) Empty() bool {
	return len(d.ToAdd) == 0 && len(d.ToUpdate) == 0 && len(d.ToRemove) == 0
}

// SyncResult summarizes what smart sync actually wrote.
type SyncResult struct {
	Added, Updated, Removed int
	FellBackToDeleteCreate  int
}

// SmartSync executes the diff against the PLM in the mandated order —
// DELETE toRemove, then PUT toUpdate (falling back to DELETE+POST on a
// Method-Not-Allowed-shaped error), then POST toAdd — preserving remote
// line identities for unchanged children (spec.md §4.5).
func SmartSync(ctx context.Context, api *API, parentID string, d Diff) (SyncResult, error) {
	var res SyncResult

	for _, line := range d.ToRemove {
		if err := api.DeleteBOMLine(ctx, parentID, line.LineID); err != nil {
			return res, err
		}
		res.Removed++
	}

	for _, change := range d.ToUpdate {
		err := api.UpdateBOMLineQuantity(ctx, parentID, change.Remote.LineID, change.NewQuantity)
		if err != nil && isMethodNotAllowed(err) {
			if delErr := api.DeleteBOMLine(ctx, parentID, change.Remote.LineID); delErr != nil {
				return res, delErr
			}
			newLine := change.Remote
			newLine.Quantity = change.NewQuantity
			if _, createErr := api.CreateBOMLine(ctx, parentID, newLine); createErr != nil {
				return res, createErr
			}
			res.FellBackToDeleteCreate++
			res.Updated++
			continue
		}
		if err != nil {
			return res, err
		}
		res.Updated++
	}

	for _, line := range d.ToAdd {
		if line.ChildItemID == "" {
			return res, errMissingChildID(line.ChildNumber)
		}
		if _, err := api.CreateBOMLine(ctx, parentID, line); err != nil {
			return res, err
		}
		res.Added++
	}

	return res, nil
}
