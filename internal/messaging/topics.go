package messaging

// Topic constants for the device worker messaging system
const (
	// TopicDeviceJobs carries block header work units to device workers.
	TopicDeviceJobs = "mining.devicejobs" // jobmanager → devworkerd

	// TopicSolutions carries candidate nonces back for share processing.
	TopicSolutions = "mining.solutions" // devworkerd → shareproc (HOT PATH)

	// TopicWorkerEvents carries rate changes, faults and other worker
	// telemetry.
	TopicWorkerEvents = "worker.events" // devworkerd → statsd
)
