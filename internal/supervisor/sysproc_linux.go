package supervisor

import "syscall"

// Workers get their own process group so a terminal ^C reaches only the
// supervisor, which then decides what to kill. Pdeathsig keeps a hung worker
// from outliving a supervisor that was killed outright.
//
// The kernel sends Pdeathsig when the forking thread exits, not the process.
// The runtime only ends a thread when a goroutine exits while locked to it,
// so spawnWorker must not run on a goroutine that calls runtime.LockOSThread.
func workerSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
}
