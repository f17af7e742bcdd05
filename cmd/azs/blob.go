package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/Azure/azs"
	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

func newBlobCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blob",
		Short: "Interact with blobs",
	}
	cmd.AddCommand(
		newCreateBlockBlobCmd(a),
		newCreatePageBlobCmd(a),
		newPutAppendBlobCmd(a),
		newAppendBlockCmd(a),
		newGetCmd(a),
		newGetPropertiesCmd(a),
		newDeleteCmd(a),
		newDeleteVersionIDCmd(a),
		newDeleteSnapshotCmd(a),
		newGetTagsCmd(a),
		newSetTagsCmd(a),
		newSetBlobTierCmd(a),
		newSnapshotCmd(a),
		newGetBlockListCmd(a),
	)
	return cmd
}

func newCreateBlockBlobCmd(a *app) *cobra.Command {
	var blockSize, bufferSize sizeValue

	cmd := &cobra.Command{
		Use:   "create-block-blob CONTAINER BLOB PATH",
		Short: `Create a "block blob" with the contents of the specified file`,
		Long: `Create a "block blob" with the contents of the specified file.

Without --upload-block-size the file is sent in a single request. With it the
file is uploaded as numbered blocks that are committed once all of them have
been written. If the upload fails part way, the blocks written so far stay
uncommitted until the service expires them.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			fs := cmd.Flags()
			req, err := uploadRequest(fs, args[2], blockSize, bufferSize)
			if err != nil {
				return err
			}
			req.IfTags = optString(fs, "if-tags")
			if tier := optString(fs, "access-tier"); tier != nil {
				t, err := azs.ParseAccessTier(*tier)
				if err != nil {
					return err
				}
				req.AccessTier = &t
			}

			b, err := a.blob(args[0], args[1])
			if err != nil {
				return err
			}
			res, err := azs.UploadBlockBlob(cmd.Context(), b, req)
			if err != nil {
				return err
			}
			slog.InfoContext(cmd.Context(), "created block blob",
				"blob", args[1],
				"size", humanize.IBytes(uint64(res.Size)),
				"blocks", len(res.BlockIDs),
				"etag", res.Version.ETag,
			)
			return output(cmd.OutOrStdout(), res)
		},
	}

	fs := cmd.Flags()
	fs.SortFlags = false
	addUploadFlags(fs, &blockSize, &bufferSize)
	addConditionFlags(fs, true)
	fs.String("access-tier", "", "Access tier of the blob, e.g. Hot, Cool, Cold or Archive")
	return cmd
}

func newCreatePageBlobCmd(a *app) *cobra.Command {
	var blockSize, bufferSize sizeValue

	cmd := &cobra.Command{
		Use:   "create-page-blob CONTAINER BLOB PATH",
		Short: `Create a "page blob" with the contents of the specified file`,
		Long: `Create a "page blob" with the contents of the specified file.

The blob length is the file length rounded up to a multiple of 512 bytes and
the tail is zero filled. The file is written in windows of --upload-block-size
bytes (default 4MiB, a multiple of 512). Page writes are not atomic: if the
upload fails part way, the pages written so far remain.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			fs := cmd.Flags()
			req, err := uploadRequest(fs, args[2], blockSize, bufferSize)
			if err != nil {
				return err
			}
			if req.SequenceNumber, err = optInt64(fs, "sequence-number"); err != nil {
				return err
			}

			b, err := a.blob(args[0], args[1])
			if err != nil {
				return err
			}
			res, err := azs.UploadPageBlob(cmd.Context(), b, req)
			if err != nil {
				return err
			}
			slog.InfoContext(cmd.Context(), "created page blob",
				"blob", args[1],
				"size", humanize.IBytes(uint64(res.Size)),
				"writes", len(res.Pages),
				"etag", res.Version.ETag,
			)
			return output(cmd.OutOrStdout(), res)
		},
	}

	fs := cmd.Flags()
	fs.SortFlags = false
	addUploadFlags(fs, &blockSize, &bufferSize)
	addConditionFlags(fs, false)
	fs.Int64("sequence-number", 0, "Initial sequence number of the page blob")
	return cmd
}

func newPutAppendBlobCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put-append-blob CONTAINER BLOB",
		Short: `Create a new empty "append blob"`,
		Long: `Create a new empty "append blob".

An existing blob of the same name is replaced. Use append-block to add data.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fs := cmd.Flags()
			cond, err := conditions(fs)
			if err != nil {
				return err
			}
			opts := &azs.AppendBlobOptions{
				Headers: contentHeaders(fs),
				LeaseID: cond.LeaseID,
				IfTags:  cond.IfTags,
			}
			if opts.Tags, err = parseKeyValueFlag(fs, "tags"); err != nil {
				return err
			}
			if opts.Metadata, err = parseKeyValueFlag(fs, "metadata"); err != nil {
				return err
			}

			b, err := a.blob(args[0], args[1])
			if err != nil {
				return err
			}
			version, err := b.CreateAppendBlob(cmd.Context(), opts)
			if err != nil {
				return err
			}
			slog.InfoContext(cmd.Context(), "created append blob", "blob", args[1], "etag", version.ETag)
			return output(cmd.OutOrStdout(), version)
		},
	}

	fs := cmd.Flags()
	fs.SortFlags = false
	fs.StringArray("tags", nil, "Blob tag as KEY=VALUE, may be repeated")
	fs.StringArray("metadata", nil, "Blob metadata as KEY=VALUE, may be repeated")
	addHeaderFlags(fs)
	addConditionFlags(fs, true)
	return cmd
}

func newAppendBlockCmd(a *app) *cobra.Command {
	var blockSize, bufferSize, maxSize sizeValue

	cmd := &cobra.Command{
		Use:   "append-block CONTAINER BLOB PATH",
		Short: `Append the contents of the specified file to an existing "append blob"`,
		Long: `Append the contents of the specified file to an existing "append blob".

The file is sent in appends of --upload-block-size bytes (default 4MiB, at
most 100MiB), in order. --condition-append-position pins the first append to
that offset and each later one to where the previous one ended. Appends are
not atomic: if the upload fails part way, the data appended so far remains.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			fs := cmd.Flags()
			cond, err := conditions(fs)
			if err != nil {
				return err
			}
			if int64(bufferSize) != int64(int(bufferSize)) {
				return fmt.Errorf("--buffer-size too large: %d", bufferSize)
			}
			req := azs.AppendRequest{
				Path:       args[2],
				BlockSize:  int64(blockSize),
				BufferSize: int(bufferSize),
				LeaseID:    cond.LeaseID,
				IfTags:     cond.IfTags,
				MaxSize:    optSize(fs, "condition-max-size", maxSize),
			}
			if req.AppendPosition, err = optInt64(fs, "condition-append-position"); err != nil {
				return err
			}

			b, err := a.blob(args[0], args[1])
			if err != nil {
				return err
			}
			res, err := azs.AppendFile(cmd.Context(), b, req)
			if err != nil {
				return err
			}
			slog.InfoContext(cmd.Context(), "appended to blob",
				"blob", args[1],
				"size", humanize.IBytes(uint64(res.Size)),
				"blocks", len(res.Blocks),
				"etag", res.Version.ETag,
			)
			return output(cmd.OutOrStdout(), res)
		},
	}

	fs := cmd.Flags()
	fs.SortFlags = false
	fs.Var(&blockSize, "upload-block-size", "Append the file in blocks of this size")
	fs.Var(&bufferSize, "buffer-size", "How much to buffer in memory while reading the file")
	fs.Var(&maxSize, "condition-max-size", "Fail if the blob would grow beyond this size")
	fs.Int64("condition-append-position", 0, "Fail unless the blob is exactly this long")
	addConditionFlags(fs, true)
	return cmd
}

func newGetCmd(a *app) *cobra.Command {
	var offset, count sizeValue

	cmd := &cobra.Command{
		Use:   "get CONTAINER BLOB",
		Short: "Get the contents of a blob",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fs := cmd.Flags()
			cond, err := conditions(fs)
			if err != nil {
				return err
			}
			b, err := a.blob(args[0], args[1])
			if err != nil {
				return err
			}

			path, _ := fs.GetString("output")
			if path == "" || path == "-" {
				n, err := azs.Download(cmd.Context(), b, cmd.OutOrStdout(), int64(offset), int64(count), cond)
				if err != nil {
					return err
				}
				slog.DebugContext(cmd.Context(), "get blob", "blob", args[1], "size", humanize.IBytes(uint64(n)))
				return nil
			}

			f, err := os.Create(path)
			if err != nil {
				return err
			}
			n, err := azs.Download(cmd.Context(), b, f, int64(offset), int64(count), cond)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				// A failed download leaves no file behind.
				if rerr := os.Remove(path); rerr != nil {
					slog.WarnContext(cmd.Context(), "failed to remove partial download", "path", path, "error", rerr)
				}
				return err
			}
			slog.DebugContext(cmd.Context(), "get blob", "blob", args[1], "size", humanize.IBytes(uint64(n)))
			return nil
		},
	}

	fs := cmd.Flags()
	fs.StringP("output", "o", "", "Write to this file instead of stdout")
	fs.Var(&offset, "offset", "Start reading at this byte offset")
	fs.Var(&count, "count", "Read at most this many bytes")
	addConditionFlags(fs, true)
	return cmd
}

func newGetPropertiesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get-properties CONTAINER BLOB",
		Short: "Get properties of a blob",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cond, err := conditions(cmd.Flags())
			if err != nil {
				return err
			}
			b, err := a.blob(args[0], args[1])
			if err != nil {
				return err
			}
			props, err := b.Properties(cmd.Context(), cond)
			if err != nil {
				return err
			}
			return output(cmd.OutOrStdout(), props)
		},
	}
	addConditionFlags(cmd.Flags(), true)
	return cmd
}

func newDeleteCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete CONTAINER BLOB",
		Short: "Delete a blob",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fs := cmd.Flags()
			cond, err := conditions(fs)
			if err != nil {
				return err
			}
			opts := azs.DeleteOptions{Conditions: cond}
			if method := optString(fs, "delete-snapshots-method"); method != nil {
				m, err := azs.ParseDeleteSnapshots(*method)
				if err != nil {
					return err
				}
				opts.Snapshots = &m
			}
			return deleteBlob(cmd, a, args, opts)
		},
	}
	fs := cmd.Flags()
	fs.String("delete-snapshots-method", "", `"include" deletes the blob and its snapshots, "only" just the snapshots`)
	addConditionFlags(fs, true)
	return cmd
}

func newDeleteVersionIDCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete-version-id CONTAINER BLOB VERSION_ID",
		Short: "Delete the blob at a specific version",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			fs := cmd.Flags()
			cond, err := conditions(fs)
			if err != nil {
				return err
			}
			permanent, _ := fs.GetBool("permanent")
			return deleteBlob(cmd, a, args, azs.DeleteOptions{Conditions: cond, VersionID: &args[2], Permanent: permanent})
		},
	}
	fs := cmd.Flags()
	fs.Bool("permanent", false, "Delete permanently instead of soft deleting")
	addConditionFlags(fs, false)
	return cmd
}

func newDeleteSnapshotCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete-snapshot CONTAINER BLOB SNAPSHOT",
		Short: "Delete a snapshot of the blob",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			fs := cmd.Flags()
			cond, err := conditions(fs)
			if err != nil {
				return err
			}
			permanent, _ := fs.GetBool("permanent")
			return deleteBlob(cmd, a, args, azs.DeleteOptions{Conditions: cond, Snapshot: &args[2], Permanent: permanent})
		},
	}
	fs := cmd.Flags()
	fs.Bool("permanent", false, "Delete permanently instead of soft deleting")
	addConditionFlags(fs, false)
	return cmd
}

func deleteBlob(cmd *cobra.Command, a *app, args []string, opts azs.DeleteOptions) error {
	b, err := a.blob(args[0], args[1])
	if err != nil {
		return err
	}
	if err := b.Delete(cmd.Context(), opts); err != nil {
		return err
	}
	slog.InfoContext(cmd.Context(), "deleted blob", "blob", args[1], "snapshot", opts.Snapshot != nil, "version", opts.VersionID != nil)
	return nil
}

func newGetTagsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get-tags CONTAINER BLOB",
		Short: "Get the tags on the blob",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cond, err := conditions(cmd.Flags())
			if err != nil {
				return err
			}
			b, err := a.blob(args[0], args[1])
			if err != nil {
				return err
			}
			tags, err := b.Tags(cmd.Context(), cond)
			if err != nil {
				return err
			}
			return output(cmd.OutOrStdout(), tags)
		},
	}
	addConditionFlags(cmd.Flags(), true)
	return cmd
}

func newSetTagsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set-tags CONTAINER BLOB",
		Short: "Set the tags on the blob",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fs := cmd.Flags()
			cond, err := conditions(fs)
			if err != nil {
				return err
			}
			tags, err := parseKeyValueFlag(fs, "tags")
			if err != nil {
				return err
			}
			if tags == nil {
				// An empty set removes every tag.
				tags = map[string]string{}
			}
			b, err := a.blob(args[0], args[1])
			if err != nil {
				return err
			}
			return b.SetTags(cmd.Context(), tags, cond)
		},
	}
	fs := cmd.Flags()
	fs.StringArray("tags", nil, "Blob tag as KEY=VALUE, may be repeated")
	addConditionFlags(fs, true)
	return cmd
}

func newSetBlobTierCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set-blob-tier CONTAINER BLOB",
		Short: "Set the access tier on the blob",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fs := cmd.Flags()
			cond, err := conditions(fs)
			if err != nil {
				return err
			}
			name, _ := fs.GetString("tier")
			tier, err := azs.ParseAccessTier(name)
			if err != nil {
				return err
			}
			opts := azs.TierOptions{
				Conditions: cond,
				Snapshot:   optString(fs, "snapshot"),
				VersionID:  optString(fs, "version-id"),
			}
			if p := optString(fs, "rehydrate-priority"); p != nil {
				priority, err := azs.ParseRehydratePriority(*p)
				if err != nil {
					return err
				}
				opts.RehydratePriority = &priority
			}

			b, err := a.blob(args[0], args[1])
			if err != nil {
				return err
			}
			if err := b.SetTier(cmd.Context(), tier, opts); err != nil {
				return err
			}
			slog.InfoContext(cmd.Context(), "set blob tier", "blob", args[1], "tier", tier)
			return nil
		},
	}

	fs := cmd.Flags()
	fs.SortFlags = false
	fs.String("tier", "", "Access tier, e.g. Hot, Cool, Cold or Archive")
	fs.String("rehydrate-priority", "", "High or Standard, when moving out of Archive")
	fs.String("snapshot", "", "Set the tier of this snapshot")
	fs.String("version-id", "", "Set the tier of this version")
	addConditionFlags(fs, true)
	_ = cmd.MarkFlagRequired("tier")
	cmd.MarkFlagsMutuallyExclusive("snapshot", "version-id")
	return cmd
}

func newSnapshotCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot CONTAINER BLOB",
		Short: "Create a snapshot of the blob",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fs := cmd.Flags()
			cond, err := conditions(fs)
			if err != nil {
				return err
			}
			opts := azs.SnapshotOptions{Conditions: cond}
			if opts.Metadata, err = parseKeyValueFlag(fs, "metadata"); err != nil {
				return err
			}

			b, err := a.blob(args[0], args[1])
			if err != nil {
				return err
			}
			snap, err := b.CreateSnapshot(cmd.Context(), opts)
			if err != nil {
				return err
			}
			slog.InfoContext(cmd.Context(), "created snapshot", "blob", args[1], "snapshot", snap.Snapshot)
			return output(cmd.OutOrStdout(), snap)
		},
	}
	fs := cmd.Flags()
	fs.StringArray("metadata", nil, "Snapshot metadata as KEY=VALUE, may be repeated")
	addConditionFlags(fs, true)
	return cmd
}

func newGetBlockListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get-block-list CONTAINER BLOB",
		Short: "List the committed and uncommitted blocks of a block blob",
		Long: `List the committed and uncommitted blocks of a block blob.

Uncommitted blocks are what remains of an upload that failed before its block
list was committed.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := a.blob(args[0], args[1])
			if err != nil {
				return err
			}
			list, err := b.BlockList(cmd.Context())
			if err != nil {
				return err
			}
			if n := len(list.Uncommitted); n > 0 {
				slog.WarnContext(cmd.Context(), "blob has uncommitted blocks", "blob", args[1], "count", n)
			}
			return output(cmd.OutOrStdout(), list)
		},
	}
}

func output(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
