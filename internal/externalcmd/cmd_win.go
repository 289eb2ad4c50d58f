//go:build windows

package externalcmd

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"unsafe"

	"github.com/kballard/go-shellquote"
	"golang.org/x/sys/windows"
)

type osData struct {
	group windows.Handle
}

// taken from
// https://gist.github.com/hallazzang/76f3970bfc949831808bbebc8ca15209
func createProcessGroup() (windows.Handle, error) {
	h, err := windows.CreateJobObject(nil, nil)
	if err != nil {
		return 0, err
	}

	info := windows.JOBOBJECT_EXTENDED_LIMIT_INFORMATION{
		BasicLimitInformation: windows.JOBOBJECT_BASIC_LIMIT_INFORMATION{
			LimitFlags: windows.JOB_OBJECT_LIMIT_KILL_ON_JOB_CLOSE,
		},
	}
	_, err = windows.SetInformationJobObject(
		h,
		windows.JobObjectExtendedLimitInformation,
		uintptr(unsafe.Pointer(&info)),
		uint32(unsafe.Sizeof(info)))
	if err != nil {
		windows.CloseHandle(h) //nolint:errcheck
		return 0, err
	}

	return h, nil
}

func addProcessToGroup(h windows.Handle, p *os.Process) error {
	access := uint32(windows.PROCESS_SET_QUOTA | windows.PROCESS_TERMINATE)

	processHandle, err := windows.OpenProcess(access, false, uint32(p.Pid))
	if err != nil {
		return fmt.Errorf("failed to open process: %w", err)
	}
	defer windows.CloseHandle(processHandle) //nolint:errcheck

	err = windows.AssignProcessToJobObject(h, processHandle)
	if err != nil {
		return fmt.Errorf("failed to assign process to job object: %w", err)
	}

	return nil
}

func command(cmdline string) (*exec.Cmd, error) {
	// cmd.exe has its own unquoting algorithm, therefore the command line
	// is passed to it untouched.
	if strings.HasPrefix(cmdline, "cmd ") || strings.HasPrefix(cmdline, "cmd.exe ") {
		args := strings.TrimPrefix(strings.TrimPrefix(cmdline, "cmd "), "cmd.exe ")

		cmd := exec.Command("cmd.exe")
		cmd.SysProcAttr = &syscall.SysProcAttr{
			CmdLine: args,
		}
		return cmd, nil
	}

	parts, err := shellquote.Split(cmdline)
	if err != nil {
		return nil, err
	}

	if len(parts) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	return exec.Command(parts[0], parts[1:]...), nil
}

func (c *Cmd) start() error {
	var err error
	c.osData.group, err = createProcessGroup()
	if err != nil {
		return err
	}

	err = c.cmd.Start()
	if err != nil {
		windows.CloseHandle(c.osData.group) //nolint:errcheck
		return err
	}

	err = addProcessToGroup(c.osData.group, c.cmd.Process)
	if err != nil {
		c.cmd.Process.Kill()                //nolint:errcheck
		c.cmd.Wait()                        //nolint:errcheck
		windows.CloseHandle(c.osData.group) //nolint:errcheck
		return err
	}

	return nil
}

func (c *Cmd) kill() {
	// closing the job object kills every process inside it
	windows.CloseHandle(c.osData.group) //nolint:errcheck
	c.osData.group = 0
}

func (c *Cmd) release() {
	if c.osData.group != 0 {
		windows.CloseHandle(c.osData.group) //nolint:errcheck
		c.osData.group = 0
	}
}
