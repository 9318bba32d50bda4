// Package micwatch tracks audio capture device presence. It combines an
// initial sysfs crawl with a udev netlink subscription so the speech
// capability's availability answer stays current across hotplug without
// polling.
package micwatch
