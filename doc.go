package tinyobj

/*
TinyObj is the transactional persistence kernel of a server platform. Application state is kept as objects, byte
strings addressed by 64-bit identifiers, plus a namespace binding string names to object identifiers. Every read and
write happens inside a transaction which may span several stores and commits with two-phase commit.

Building TinyObj produces two executables: tinyobj-server, which opens a durable store and serves its status and
metrics over HTTP, and tinyobj-ctl, an operator tool that runs single operations or an interactive shell against a
store directory.

The `tinyobj` module is organized into the following packages:

* `kv/transaction`: the transaction coordinator. Stores join a transaction as participants; the coordinator prepares
  and commits or aborts them.
* `kv/storage`: the object store interface, the error kinds every store reports, and an in-memory store with
  per-object latches used in tests.
* `kv/storage/standalone_storage`: the durable store on badger. It locks objects and names through a lock table with
  deadlock detection, allocates identifiers in blocks from a header record, and checkpoints in the background.
* `kv/storage/meta`: the header record (magic, versions and id counters) of a durable store.
* `kv/util`: engine helpers, key and value encodings, the lock table, the deadlock detector and a background worker.
* `kv/config`: configuration, loaded from toml.
*/
