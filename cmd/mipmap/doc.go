/*
mipmap builds multi-resolution pyramids of 4-D (c, z, y, x) zarr volumes by 2x2x2
max-pooling and records per-channel intensity statistics alongside them.

Volumes live in a key-value store selected by the [store] section of the TOML
configuration: a directory ("filestore"), an embedded badger database ("badger"),
a cloud bucket ("blobstore" with a file://, mem://, gs:// or s3:// url) or memory.

In the following documentation, the type of brackets designate
<required parameter> and [optional parameter].

	mipmap about

Prints the version of the mipmap command and the storage engines compiled in.

	mipmap -config=/path/to/config.toml build [base array path] [target=64] [bins=1024] [prefix=/mipmaps] [concurrency=1]

Builds levels /mipmaps/1, /mipmaps/2, ... from the base array until the largest
spatial extent is at most the target.  Each level is sharded so a shard is written
in one store operation and the full volume is never held in memory.  Statistics of
the base array are stored in the root group's attributes under the base array path,
and full histograms plus a build record go to the /analytics group.  If the store
has no root attributes yet, they are created from the [volume] settings.

Builds are not resumable.  A failed build leaves any levels already written and
building again over them fails.

	mipmap -config=/path/to/config.toml stats [array path]

Prints the recorded statistics of an array, defaulting to the [build] base.

	mipmap -config=/path/to/config.toml attrs

Prints the root attributes.
*/
package main
